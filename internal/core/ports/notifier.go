package ports

// Notifier delivers user-facing notifications. Delivery is best effort: the
// caller logs and drops errors, it never retries.
type Notifier interface {
	Notify(title, message string) error
}
