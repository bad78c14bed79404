package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment is a billing relationship with a customer. It owns the
// transactions attempted against it.
type Payment struct {
	ID                 uuid.UUID        `json:"id"`
	CustomerID         string           `json:"customer_id"`
	PaymentMethodToken string           `json:"payment_method_token,omitempty"`
	BillingAddress     *CustomerAddress `json:"billing_address,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	Transactions       []*Transaction   `json:"transactions,omitempty"`
}

func NewPayment(customerID string, address *CustomerAddress, now time.Time) *Payment {
	return &Payment{
		ID:             uuid.New(),
		CustomerID:     customerID,
		BillingAddress: address,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

type CustomerAddress struct {
	FirstName string `json:"first_name" binding:"required,max=50"`
	LastName  string `json:"last_name" binding:"required,max=50"`
	Company   string `json:"company,omitempty" binding:"max=50"`
	Address   string `json:"address" binding:"required,max=60"`
	City      string `json:"city" binding:"required,max=40"`
	State     string `json:"state" binding:"required,min=2,max=40"`
	Zip       string `json:"zip" binding:"required,max=20"`
	Country   string `json:"country,omitempty" binding:"max=60"`
}

type CreditCard struct {
	CardNumber     string `json:"card_number" binding:"required,min=13,max=19"`
	ExpirationDate string `json:"expiration_date" binding:"required"`
	CardCode       string `json:"card_code,omitempty" binding:"omitempty,min=3,max=4"`
}

type LineItem struct {
	ItemID      string `json:"item_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}
