package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/groupchat/internal/client/models"
)

const timeLayout = "2006-01-02 15:04"

// formatMessage renders one message on a single line. self marks the
// current user's messages.
func formatMessage(m models.Message, self string) string {
	var b strings.Builder

	sender := m.SenderID
	if self != "" && sender == self {
		sender = "me"
	}
	fmt.Fprintf(&b, "[%d] %s %s:", m.ID, m.CreatedAt.Local().Format(timeLayout), sender)

	if m.ReplyTo != nil {
		fmt.Fprintf(&b, " (reply to %d)", *m.ReplyTo)
	}
	if text := m.Text(); text != "" {
		b.WriteString(" ")
		b.WriteString(strings.ReplaceAll(text, "\n", "\n    "))
	}
	if m.Type == models.MessageTypeImage {
		if m.ImageURL != "" {
			fmt.Fprintf(&b, " [image: %s]", m.ImageURL)
		} else {
			b.WriteString(" [image]")
		}
	}
	if m.IsEdited {
		b.WriteString(" (edited)")
	}
	return b.String()
}

// renderMessages writes msgs, held newest first, in reading order.
func renderMessages(w io.Writer, msgs []models.Message, self string) {
	for i := len(msgs) - 1; i >= 0; i-- {
		fmt.Fprintln(w, formatMessage(msgs[i], self))
	}
}

// markPrinted starts live printing after m. A nil m means the conversation
// was empty when listed.
func (a *App) markPrinted(m *models.Message) {
	a.newestMu.Lock()
	defer a.newestMu.Unlock()
	a.tracking = true
	a.newest = m
}

func (a *App) resetNewest() {
	a.newestMu.Lock()
	defer a.newestMu.Unlock()
	a.tracking = false
	a.newest = nil
}

// pendingLive returns the held messages newer than the last printed one and
// advances the mark.
func (a *App) pendingLive(snapshot []models.Message) []models.Message {
	a.newestMu.Lock()
	defer a.newestMu.Unlock()

	if !a.tracking || len(snapshot) == 0 {
		return nil
	}

	n := 0
	for n < len(snapshot) && (a.newest == nil || snapshot[n].NewerThan(*a.newest)) {
		n++
	}
	if n == 0 {
		return nil
	}

	head := snapshot[0]
	a.newest = &head
	return snapshot[:n]
}

// watchUpdates prints messages that arrive after the last listing, live
// inserts and the user's own sends alike.
func (a *App) watchUpdates(ctx context.Context) {
	updates := a.chat.Store().Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			fresh := a.pendingLive(a.chat.Store().Snapshot())
			if len(fresh) == 0 {
				continue
			}
			self, _ := a.identity.CurrentUserID()
			a.outMu.Lock()
			renderMessages(a.out, fresh, self)
			a.outMu.Unlock()
		}
	}
}
