package orders

import "strings"

type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

// AllStatuses lists the closed set in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// CanTransition is the single place where status edges are decided.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// HoldsStock reports whether an order in this status keeps a live reservation.
func (s Status) HoldsStock() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusShipped
}

// ParseStatus accepts any letter case ("shipped", "SHIPPED").
func ParseStatus(raw string) (Status, error) {
	v := strings.TrimSpace(raw)
	for _, s := range AllStatuses {
		if strings.EqualFold(string(s), v) {
			return s, nil
		}
	}
	return "", InvalidRequestf("unknown status %q", raw)
}
