package enums

import "fmt"

// NotificationChannel is the delivery medium of a notification.
type NotificationChannel string

const (
	NotificationChannelEmail  NotificationChannel = "email"
	NotificationChannelPush   NotificationChannel = "push"
	NotificationChannelSystem NotificationChannel = "system"
)

var validNotificationChannels = []NotificationChannel{
	NotificationChannelEmail,
	NotificationChannelPush,
	NotificationChannelSystem,
}

// IsValid checks whether the channel matches the canonical enum.
func (n NotificationChannel) IsValid() bool {
	for _, candidate := range validNotificationChannels {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationChannel converts raw strings into NotificationChannel.
func ParseNotificationChannel(value string) (NotificationChannel, error) {
	for _, candidate := range validNotificationChannels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification channel %q", value)
}

// NotificationStatus tracks dispatch progress.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// IsTerminal reports whether no further dispatch attempt is expected.
func (s NotificationStatus) IsTerminal() bool {
	return s == NotificationStatusSent
}
