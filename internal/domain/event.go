package domain

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// InventoryChangeEvent describes the desired absolute stock level of one item at one
// vendor location. It is a set, not a delta, so applying it twice leaves the vendor
// in the same state as applying it once.
type InventoryChangeEvent struct {
	itemReference     string
	sku               string
	availableQuantity int64
	locationID        int64
}

// eventFields carries the validation rules, named after the inbound wire fields
type eventFields struct {
	ItemReference     string `json:"orderId" validate:"required"`
	SKU               string `json:"sku" validate:"required"`
	AvailableQuantity int64  `json:"availableQuantity" validate:"gte=0"`
	LocationID        int64  `json:"locationId" validate:"gt=0"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// NewInventoryChangeEvent builds a validated event.
// A validation failure is returned as a *DecodeError with reason "invalid_event".
func NewInventoryChangeEvent(itemReference, sku string, availableQuantity, locationID int64) (InventoryChangeEvent, error) {
	fields := eventFields{
		ItemReference:     itemReference,
		SKU:               sku,
		AvailableQuantity: availableQuantity,
		LocationID:        locationID,
	}
	if err := getValidator().Struct(fields); err != nil {
		return InventoryChangeEvent{}, NewDecodeError(DecodeReasonInvalidEvent, err)
	}

	return InventoryChangeEvent{
		itemReference:     itemReference,
		sku:               sku,
		availableQuantity: availableQuantity,
		locationID:        locationID,
	}, nil
}

// ItemReference is the vendor inventory-item key. It is taken verbatim from the
// inbound "orderId" field; the field name suggests an order, not an inventory item,
// and the mapping is kept literal until producers confirm which identifier they send.
func (e InventoryChangeEvent) ItemReference() string { return e.itemReference }

// SKU is used for logging and correlation only and is never sent to the vendor.
func (e InventoryChangeEvent) SKU() string { return e.sku }

func (e InventoryChangeEvent) AvailableQuantity() int64 { return e.availableQuantity }

func (e InventoryChangeEvent) LocationID() int64 { return e.locationID }

// SyncRequest maps the event to the vendor request body
func (e InventoryChangeEvent) SyncRequest() SyncRequest {
	return SyncRequest{
		InventoryItemID: e.itemReference,
		LocationID:      e.locationID,
		Available:       e.availableQuantity,
	}
}

// LogAttrs returns the event's fields as slog key/value pairs
func (e InventoryChangeEvent) LogAttrs() []any {
	return []any{
		"sku", e.sku,
		"itemReference", e.itemReference,
		"locationId", e.locationID,
		"available", e.availableQuantity,
	}
}

// SyncRequest is the body of POST inventory_levels/set.json
type SyncRequest struct {
	InventoryItemID string `json:"inventory_item_id"`
	LocationID      int64  `json:"location_id"`
	Available       int64  `json:"available"`
}
