package driven

// Notifier delivers a short user-facing notification.
type Notifier interface {
	Notify(title, message string) error
}
