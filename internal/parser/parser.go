// Package parser turns a structured text block into a Quote.
//
// Fields are located by label, not by position: for every label the first
// line matching `<label>: <value>` wins and later duplicates are ignored.
// Parsing fails on the first missing mandatory label in canonical order.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"quoteline/internal/config"
	"quoteline/internal/domain"
)

const (
	LabelCustomerName      = "customer-name"
	LabelContactMethod     = "contact-method"
	LabelContactInfo       = "contact-info"
	LabelPaymentMethod     = "payment-method"
	LabelEstimateStartDate = "estimated-start-date"
	LabelOrderStatus       = "order-status"
	LabelPaymentReceived   = "payment-received"
	LabelComment           = "comment"
)

// MissingFieldError reports an absent mandatory label.
type MissingFieldError struct {
	Label string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %q", e.Label)
}

// MalformedFieldError reports a value that failed coercion.
type MalformedFieldError struct {
	Label string
	Value string
}

func (e *MalformedFieldError) Error() string {
	return fmt.Sprintf("malformed field %q: %q", e.Label, e.Value)
}

// Parse builds a Quote from a text block. The returned quote has no id and
// no external message ref; both are assigned later by the workflow service.
func Parse(text string, catalog []config.Category, now time.Time) (domain.Quote, error) {
	lines := strings.Split(text, "\n")

	var q domain.Quote

	name, err := scalar(lines, LabelCustomerName)
	if err != nil {
		return q, err
	}
	contact, err := scalar(lines, LabelContactMethod)
	if err != nil {
		return q, err
	}
	contactInfo, err := scalar(lines, LabelContactInfo)
	if err != nil {
		return q, err
	}
	payment, err := intField(lines, LabelPaymentMethod)
	if err != nil {
		return q, err
	}
	if !domain.PaymentMethod(payment).Valid() {
		return q, &MalformedFieldError{Label: LabelPaymentMethod, Value: strconv.Itoa(payment)}
	}
	startDate, err := scalar(lines, LabelEstimateStartDate)
	if err != nil {
		return q, err
	}
	status, err := intField(lines, LabelOrderStatus)
	if err != nil {
		return q, err
	}
	if !domain.Status(status).Valid() {
		return q, &MalformedFieldError{Label: LabelOrderStatus, Value: strconv.Itoa(status)}
	}
	received, err := boolField(lines, LabelPaymentReceived)
	if err != nil {
		return q, err
	}

	items := make([]domain.Commission, 0, len(catalog))
	for _, cat := range catalog {
		item, err := commissionLine(lines, cat)
		if err != nil {
			return q, err
		}
		items = append(items, item)
	}

	comment, _ := trailing(lines, LabelComment)

	epoch := now.Unix()
	q = domain.Quote{
		Status:            domain.Status(status),
		PaymentReceived:   received,
		CreatedAt:         epoch,
		LastUpdate:        epoch,
		EstimateStartDate: startDate,
		Customer: domain.CustomerData{
			Name:          name,
			Contact:       contact,
			ContactInfo:   contactInfo,
			PaymentMethod: domain.PaymentMethod(payment),
		},
		Items:   items,
		Comment: comment,
	}
	return q, nil
}

// scalar returns the trimmed value of the first line carrying the label.
func scalar(lines []string, label string) (string, error) {
	for _, line := range lines {
		if value, ok := match(line, label); ok {
			return value, nil
		}
	}
	return "", &MissingFieldError{Label: label}
}

func intField(lines []string, label string) (int, error) {
	raw, err := scalar(lines, label)
	if err != nil {
		return 0, err
	}
	v, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return 0, &MalformedFieldError{Label: label, Value: raw}
	}
	return v, nil
}

func boolField(lines []string, label string) (bool, error) {
	raw, err := scalar(lines, label)
	if err != nil {
		return false, err
	}
	switch raw {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, &MalformedFieldError{Label: label, Value: raw}
}

// commissionLine parses `<category-key>: <count> [<price>]`.
func commissionLine(lines []string, cat config.Category) (domain.Commission, error) {
	raw, err := scalar(lines, cat.Key)
	if err != nil {
		return domain.Commission{}, err
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 || len(fields) > 2 {
		return domain.Commission{}, &MalformedFieldError{Label: cat.Key, Value: raw}
	}
	count, convErr := strconv.Atoi(fields[0])
	if convErr != nil || count < 0 {
		return domain.Commission{}, &MalformedFieldError{Label: cat.Key, Value: raw}
	}
	price := cat.DefaultPrice
	if len(fields) == 2 {
		price, convErr = strconv.Atoi(fields[1])
		if convErr != nil || price < 0 {
			return domain.Commission{}, &MalformedFieldError{Label: cat.Key, Value: raw}
		}
	}
	return domain.Commission{
		Kind:      cat.Key,
		Count:     count,
		UnitPrice: price,
		Stage:     domain.StageNone,
	}, nil
}

// trailing returns the label's value plus every following line, joined.
// Used for the free-form comment block at the end of the input.
func trailing(lines []string, label string) (string, bool) {
	for i, line := range lines {
		if value, ok := match(line, label); ok {
			parts := append([]string{value}, lines[i+1:]...)
			return strings.TrimSpace(strings.Join(parts, "\n")), true
		}
	}
	return "", false
}

// match splits a line on the first colon and checks the label part.
func match(line, label string) (string, bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", false
	}
	if strings.TrimSpace(line[:idx]) != label {
		return "", false
	}
	return strings.TrimSpace(line[idx+1:]), true
}

// Template renders an example input block for the configured catalog. Shown
// when a caller asks for a quote without supplying the text up front.
func Template(catalog []config.Category) string {
	var b strings.Builder
	b.WriteString(LabelCustomerName + ": Jane\n")
	b.WriteString(LabelContactMethod + ": email\n")
	b.WriteString(LabelContactInfo + ": jane@example.com\n")
	b.WriteString(LabelPaymentMethod + ": 3\n")
	b.WriteString(LabelEstimateStartDate + ": 2026-10-01\n")
	b.WriteString(LabelOrderStatus + ": 1\n")
	b.WriteString(LabelPaymentReceived + ": 0\n")
	for _, cat := range catalog {
		if cat.QuoteExplicitly {
			fmt.Fprintf(&b, "%s: 0 0\n", cat.Key)
			continue
		}
		fmt.Fprintf(&b, "%s: 0\n", cat.Key)
	}
	b.WriteString(LabelComment + ": first come first served")
	return b.String()
}
