package ui

import (
	"fmt"
	"os/exec"
	"runtime"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("wxharvest").Show($toast)
	`, title, message)
	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

// Notifier prints notices to the terminal and mirrors them to the desktop
type Notifier struct {
	sender NotificationSender
}

// NewNotifier picks a sender for the current platform. Desktop notices are
// skipped when desktop is false or the platform has no sender.
func NewNotifier(desktop bool) *Notifier {
	if !desktop {
		return &Notifier{}
	}
	var sender NotificationSender
	switch runtime.GOOS {
	case "linux":
		sender = &LinuxNotificationSender{}
	case "darwin":
		sender = &MacOSNotificationSender{}
	case "windows":
		sender = &WindowsNotificationSender{}
	}
	return &Notifier{sender: sender}
}

// NewNotifierWithSender uses a specific sender
func NewNotifierWithSender(sender NotificationSender) *Notifier {
	return &Notifier{sender: sender}
}

func (n *Notifier) desktop(title, message string) {
	if n.sender != nil {
		// Desktop delivery is best effort.
		_ = n.sender.Send(title, message)
	}
}

// SendNotification prints a notice and sends it to the desktop
func (n *Notifier) SendNotification(title, message string) {
	fmt.Fprintf(writer(), "\n%s: %s\n", Cyan(title), Yellow(message))
	n.desktop(title, message)
}

// SendError prints an error notice and sends it to the desktop
func (n *Notifier) SendError(title, message string) {
	fmt.Fprintf(writer(), "\n%s: %s\n", Red(title), Red(message))
	n.desktop(title, message)
}

// SendSuccess prints a success notice and sends it to the desktop
func (n *Notifier) SendSuccess(title, message string) {
	fmt.Fprintf(writer(), "\n%s: %s\n", Green(title), Green(message))
	n.desktop(title, message)
}

// QRCodeReady tells the user where the login QR code was written. Its
// signature matches login.NoticeFunc.
func (n *Notifier) QRCodeReady(path string) {
	n.SendNotification("Scan to log in",
		fmt.Sprintf("Open %s and scan the QR code with WeChat", path))
}

// SyncFinished reports the outcome of a full update
func (n *Notifier) SyncFinished(feeds, failed, records, changed int) {
	msg := fmt.Sprintf("%d feeds, %d articles, %d new or updated", feeds, records, changed)
	if failed > 0 {
		n.SendError("Update finished with failures", fmt.Sprintf("%s, %d failed", msg, failed))
		return
	}
	n.SendSuccess("Update finished", msg)
}
