package models

import "time"

// Product is a dish on the menu.
type Product struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"uniqueIndex;not null"`
	Description string    `json:"description"`
	Price       float64   `json:"price" gorm:"not null"`
	Stock       int       `json:"stock" gorm:"not null;default:0"`
	Available   bool      `json:"available" gorm:"default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultMenu seeds an empty catalogue.
func DefaultMenu() []Product {
	return []Product{
		{Name: "Margherita Pizza", Description: "Classic pizza with tomato sauce, mozzarella, and basil", Price: 12.99, Stock: 50, Available: true},
		{Name: "Chicken Caesar Salad", Description: "Romaine lettuce with grilled chicken, croutons, and Caesar dressing", Price: 9.99, Stock: 30, Available: true},
		{Name: "Cheeseburger", Description: "Beef patty with cheddar cheese, lettuce, tomato, and special sauce", Price: 8.50, Stock: 40, Available: true},
		{Name: "Vegetable Stir Fry", Description: "Seasonal vegetables stir-fried in soy ginger sauce", Price: 11.25, Stock: 25, Available: true},
		{Name: "Chocolate Brownie", Description: "Rich chocolate brownie with vanilla ice cream", Price: 5.99, Stock: 35, Available: true},
		{Name: "Grilled Salmon", Description: "Salmon fillet with lemon herb butter and steamed vegetables", Price: 16.50, Stock: 20, Available: true},
		{Name: "Pasta Carbonara", Description: "Spaghetti with creamy sauce, pancetta, and parmesan cheese", Price: 13.75, Stock: 30, Available: true},
		{Name: "Chicken Wings", Description: "Spicy buffalo wings with blue cheese dip", Price: 10.99, Stock: 45, Available: true},
		{Name: "Greek Salad", Description: "Mixed greens with feta, olives, cucumber, and Greek dressing", Price: 8.25, Stock: 30, Available: true},
		{Name: "Fruit Smoothie", Description: "Blended seasonal fruits with yogurt and honey", Price: 6.50, Stock: 40, Available: true},
	}
}
