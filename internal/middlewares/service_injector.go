package middlewares

import (
	"context"
	"fmt"
	"net/http"

	"github.com/quickbites/quickbites-backend/internal/models"
)

type key int

const (
	OrderServiceKey key = iota
	JwtServiceKey
	UserServiceKey
)

func ServiceInjectorMiddleware(
	orderService models.OrderService,
	jwtService models.JWTService,
	userService models.UserService,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), OrderServiceKey, orderService)
			ctx = context.WithValue(ctx, JwtServiceKey, jwtService)
			ctx = context.WithValue(ctx, UserServiceKey, userService)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetServiceFromContext[Service interface{}](w http.ResponseWriter, r *http.Request, serviceKey key) *Service {
	foundService, ok := r.Context().Value(serviceKey).(Service)

	if !ok {
		http.Error(w, fmt.Sprintf("Service wasn't found in context by key %v", serviceKey), http.StatusInternalServerError)
		return nil
	}

	return &foundService
}
