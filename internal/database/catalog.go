package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/quickbites/quickbites-backend/internal/models"
)

const (
	SelectFoodItemsQuery = `
		SELECT
			id,
			name,
			price
		FROM
			food_items
		WHERE
			id = ANY($1)
	`
	SelectRestaurantQuery = `
		SELECT
			id,
			name,
			address,
			lat,
			lon,
			packaging_fee
		FROM
			restaurants
		WHERE
			id = $1
	`
	SelectUserQuery = `
		SELECT
			id,
			name,
			phone,
			email,
			push_tokens
		FROM
			users
		WHERE
			id = $1
	`
)

// FindFoodItems resolves menu items in bulk. Ids missing from the catalog are
// simply absent from the result; the caller decides whether that is fatal.
func (d *Database) FindFoodItems(ctx context.Context, ids []string) ([]models.FoodItem, error) {
	var result []models.FoodItem

	rows, err := d.db.Query(ctx, SelectFoodItemsQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query food items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.FoodItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Price); err != nil {
			return nil, fmt.Errorf("failed to scan food item row: %w", err)
		}
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate food item rows: %w", err)
	}

	return result, nil
}

// FindRestaurant returns nil without an error when the restaurant is missing.
func (d *Database) FindRestaurant(ctx context.Context, restaurantID string) (*models.Restaurant, error) {
	var restaurant models.Restaurant

	err := d.db.QueryRow(ctx, SelectRestaurantQuery, restaurantID).Scan(
		&restaurant.ID, &restaurant.Name, &restaurant.Address,
		&restaurant.Location.Latitude, &restaurant.Location.Longitude,
		&restaurant.PackagingFee,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find restaurant: %w", err)
	}

	return &restaurant, nil
}

// FindUser returns nil without an error when the user is missing.
func (d *Database) FindUser(ctx context.Context, userID string) (*models.User, error) {
	var (
		user       models.User
		pushTokens []byte
	)

	err := d.db.QueryRow(ctx, SelectUserQuery, userID).Scan(
		&user.ID, &user.Name, &user.Phone, &user.Email, &pushTokens,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if err := json.Unmarshal(pushTokens, &user.PushTokens); err != nil {
		return nil, fmt.Errorf("failed to unmarshal push tokens: %w", err)
	}

	return &user, nil
}
