package domain

import (
	"math"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// DecodeLineItems reads a JSON array of line item objects. The product
// reference is taken from either "productId" (guest storage) or "product"
// (merge payload). Entries that are not objects, lack a product reference, or
// carry a non-numeric, fractional or non-positive quantity are dropped.
// Only a payload that is not an array is reported as an error.
func DecodeLineItems(d *jx.Decoder) ([]LineItem, error) {
	if d.Next() != jx.Array {
		return nil, errors.Wrap(ErrInvalidArgument, "items must be an array")
	}

	items := make([]LineItem, 0)
	if err := d.Arr(func(d *jx.Decoder) error {
		if d.Next() != jx.Object {
			return d.Skip()
		}
		item, err := decodeLineItem(d)
		if err != nil {
			return err
		}
		if item.Valid() {
			items = append(items, item)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "decode items: %v", err)
	}

	return items, nil
}

func decodeLineItem(d *jx.Decoder) (LineItem, error) {
	var item LineItem
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "productId", "product":
			if d.Next() != jx.String {
				return d.Skip()
			}
			s, err := d.Str()
			if err != nil {
				return err
			}
			item.ProductID = s
		case "quantity":
			if d.Next() != jx.Number {
				return d.Skip()
			}
			f, err := d.Float64()
			if err != nil {
				return err
			}
			if f >= 1 && f <= math.MaxInt32 && f == math.Trunc(f) {
				item.Quantity = int(f)
			}
		default:
			return d.Skip()
		}
		return nil
	})
	return item, err
}
