package notifier

// TextNotifier is intentionally small so components can depend on it without
// importing a concrete implementation.
type TextNotifier interface {
	SendText(text string) error
}

// Noop discards every message. Used when no notifier is configured.
type Noop struct{}

func (Noop) SendText(string) error { return nil }
