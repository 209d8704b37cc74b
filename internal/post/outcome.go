package post

// Outcome reports what a single delivery attempt did.
type Outcome struct {
	Destination Destination
	ToChannel   bool
	Err         error
}

func (o Outcome) Delivered() bool {
	return o.Err == nil
}
