package workspace

import "github.com/MarcoPoloResearchLab/buzznotes/internal/i18n"

// Level classifies a Notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is a user-visible confirmation or failure message.
type Notice struct {
	Level  Level
	Key    i18n.Key
	Detail string
}

// Notifier receives notices as operations complete.
type Notifier interface {
	Notify(notice Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(notice Notice)

// Notify calls f(notice).
func (f NotifierFunc) Notify(notice Notice) {
	f(notice)
}

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}
