package authgate

import "sync"

// Stack is the group of screens available for a session status.
type Stack string

const (
	StackLoading         Stack = "loading"
	StackUnauthenticated Stack = "unauthenticated"
	StackAuthenticated   Stack = "authenticated"
)

// Screen identifies a single page inside a stack.
type Screen string

const (
	ScreenNone           Screen = ""
	ScreenLogin          Screen = "login"
	ScreenSignup         Screen = "signup"
	ScreenForgotPassword Screen = "forgot-password"
	ScreenHome           Screen = "home"
)

var stackScreens = map[Stack][]Screen{
	StackLoading:         nil,
	StackUnauthenticated: {ScreenLogin, ScreenSignup, ScreenForgotPassword},
	StackAuthenticated:   {ScreenHome},
}

// SelectStack maps a session state to the stack that must be shown.
func SelectStack(state SessionState) Stack {
	switch state.Status {
	case SessionAuthenticated:
		if state.Identity == nil {
			return StackUnauthenticated
		}
		return StackAuthenticated
	case SessionAnonymous:
		return StackUnauthenticated
	default:
		return StackLoading
	}
}

// Screens lists the screens reachable inside the stack. The first entry is
// the initial screen.
func (s Stack) Screens() []Screen {
	screens := stackScreens[s]
	out := make([]Screen, len(screens))
	copy(out, screens)
	return out
}

// InitialScreen is the screen shown when the stack is entered. The loading
// stack has none.
func (s Stack) InitialScreen() Screen {
	screens := stackScreens[s]
	if len(screens) == 0 {
		return ScreenNone
	}
	return screens[0]
}

// Contains reports whether screen belongs to the stack.
func (s Stack) Contains(screen Screen) bool {
	for _, candidate := range stackScreens[s] {
		if candidate == screen {
			return true
		}
	}
	return false
}

// ResolveScreen returns the stack for state and the screen to display. The
// requested screen is honored only when it belongs to that stack.
func ResolveScreen(state SessionState, requested Screen) (Stack, Screen) {
	stack := SelectStack(state)
	if requested != ScreenNone && stack.Contains(requested) {
		return stack, requested
	}
	return stack, stack.InitialScreen()
}

// NoticeBoard holds persistent messages waiting for a screen to mount. The
// zero value is ready to use.
type NoticeBoard struct {
	mu      sync.Mutex
	notices map[Screen]string
}

// NewNoticeBoard returns an empty board.
func NewNoticeBoard() *NoticeBoard {
	return &NoticeBoard{notices: make(map[Screen]string)}
}

// Post stores msg for screen, replacing any pending notice.
func (b *NoticeBoard) Post(screen Screen, msg string) {
	if b == nil || msg == "" {
		return
	}
	b.mu.Lock()
	if b.notices == nil {
		b.notices = make(map[Screen]string)
	}
	b.notices[screen] = msg
	b.mu.Unlock()
}

// Take returns and clears the pending notice for screen.
func (b *NoticeBoard) Take(screen Screen) (string, bool) {
	if b == nil {
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.notices[screen]
	if ok {
		delete(b.notices, screen)
	}
	return msg, ok
}
