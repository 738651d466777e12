package domain

// DiscountFor computes the discount a voucher grants against an order
// subtotal. Percentage vouchers floor the result; MaxDiscount, when set, caps
// the computed discount for every voucher type, and no voucher discounts more
// than the subtotal itself.
func (v Voucher) DiscountFor(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}

	var discount int64
	switch v.Type {
	case VoucherTypePercent:
		discount = subtotal * v.Discount / 100
	case VoucherTypeFixed:
		discount = v.Discount
	default:
		return 0
	}

	if v.MaxDiscount > 0 && discount > v.MaxDiscount {
		discount = v.MaxDiscount
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return discount
}

// ComputeTotals derives the order totals from its lines, a discount and the
// shipping fee. The grand total never goes negative.
func ComputeTotals(lines []OrderLine, discount, shippingFee int64) OrderTotals {
	var subtotal int64
	for _, line := range lines {
		subtotal += line.Total()
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	total := subtotal - discount + shippingFee
	if total < 0 {
		total = 0
	}
	return OrderTotals{
		Subtotal:    subtotal,
		Discount:    discount,
		ShippingFee: shippingFee,
		Total:       total,
	}
}
