package fcm

import (
	"strconv"
	"time"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
)

// toMessage maps the platform-neutral message onto FCM's per-platform
// blocks. DelayWhileIdle has no FCM equivalent and is dropped.
func toMessage(msg *dispatch.Message) *messaging.Message {
	fm := &messaging.Message{
		Data: msg.Data,
	}

	if msg.Title != "" || msg.Body != "" {
		fm.Notification = &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		}
	}

	android := &messaging.AndroidConfig{
		CollapseKey:           msg.CollapseKey,
		Priority:              androidPriority(msg.Priority),
		RestrictedPackageName: msg.RestrictedPackageName,
	}
	if msg.TimeToLive > 0 {
		ttl := msg.TimeToLive
		android.TTL = &ttl
	}
	if msg.Sound != "" || msg.Icon != "" || msg.ClickAction != "" {
		android.Notification = &messaging.AndroidNotification{
			Sound:       msg.Sound,
			Icon:        msg.Icon,
			ClickAction: msg.ClickAction,
		}
	}
	fm.Android = android

	if msg.Sound != "" || msg.ContentAvailable {
		fm.APNS = &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound:            msg.Sound,
					ContentAvailable: msg.ContentAvailable,
				},
			},
		}
	}

	if msg.Icon != "" && fm.Notification != nil {
		fm.Webpush = &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: msg.Title,
				Body:  msg.Body,
				Icon:  msg.Icon,
			},
		}
	}
	if fm.Webpush != nil && msg.TimeToLive > 0 {
		fm.Webpush.Headers = map[string]string{"TTL": ttlSeconds(msg.TimeToLive)}
	}

	return fm
}

// androidPriority accepts the GCM spellings ("high", "normal") and the
// numeric APNs-style values callers sometimes pass.
func androidPriority(p string) string {
	switch p {
	case "high", "10":
		return "high"
	case "normal", "5":
		return "normal"
	default:
		return ""
	}
}

func ttlSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}
