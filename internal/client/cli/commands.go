package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/groupchat/internal/filex"
)

var (
	errBadGroup = errors.New("group id must be a positive integer")
	errBadID    = errors.New("message id must be a positive integer")
)

func parseID(s string, bad error) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, bad
	}
	return id, nil
}

// Login asks for an access token and makes it the current identity.
func (a *App) Login(ctx context.Context) error {
	token, err := GetToken(a.reader, a.out)
	if err != nil {
		a.println("Error:", err)
		return err
	}

	userID, err := a.identity.SetToken(token)
	if err != nil {
		a.logger.Warn(ctx, "login rejected", "err", err)
		a.println("Login failed:", err)
		return err
	}

	a.logger.Info(ctx, "logged in", "user_id", userID)
	a.println("Logged in as", userID)
	return nil
}

// Logout forgets the current identity. Sending then fails until the next
// login; reading keeps working.
func (a *App) Logout(ctx context.Context) error {
	a.identity.Clear()
	a.println("Logged out")
	return nil
}

// Open switches to a group conversation and prints its newest page.
func (a *App) Open(ctx context.Context, args []string) error {
	groupID, err := parseID(args[0], errBadGroup)
	if err != nil {
		a.println("Error:", err)
		return err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	a.resetNewest()
	if err := a.chat.Open(ctx, groupID); err != nil {
		return err
	}

	return a.List(ctx)
}

// More loads the next older page of the open conversation.
func (a *App) More(ctx context.Context) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	n, err := a.chat.LoadMore(ctx)
	if err != nil {
		a.println("Error:", err)
		return err
	}

	switch {
	case n > 0:
		a.printf("Loaded %d older messages\n", n)
	case !a.chat.HasMore():
		a.println("No older messages")
	}
	return nil
}

// List resolves pending images and prints every held message oldest first.
func (a *App) List(ctx context.Context) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.chat.Enrich(ctx); err != nil {
		a.println("Error:", err)
		return err
	}

	msgs := a.chat.Messages()
	if len(msgs) == 0 {
		a.markPrinted(nil)
		a.println("No messages")
		return nil
	}

	self, _ := a.identity.CurrentUserID()
	a.outMu.Lock()
	renderMessages(a.out, msgs, self)
	a.outMu.Unlock()

	a.markPrinted(&msgs[0])
	if a.chat.HasMore() {
		a.println("(type 'more' for older messages)")
	}
	return nil
}

// Send posts a text message. Without arguments the text is read as
// multiple lines.
func (a *App) Send(ctx context.Context, args []string) error {
	text := strings.Join(args, " ")
	if text == "" {
		var err error
		if text, err = GetMultiline(a.reader, "Enter message:", a.out); err != nil {
			return err
		}
	}
	return a.sendText(ctx, text, nil)
}

// Reply posts a text message that refers to an earlier one.
func (a *App) Reply(ctx context.Context, args []string) error {
	replyTo, err := parseID(args[0], errBadID)
	if err != nil {
		a.println("Error:", err)
		return err
	}
	return a.sendText(ctx, strings.Join(args[1:], " "), &replyTo)
}

func (a *App) sendText(ctx context.Context, text string, replyTo *int64) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	_, err := a.chat.SendText(ctx, text, replyTo)
	return err
}

// Image reads, compresses and posts an image file with an optional caption.
func (a *App) Image(ctx context.Context, args []string) error {
	path, err := filex.ExpandHome(args[0])
	if err != nil {
		a.println("Error:", err)
		return err
	}

	data, err := a.readFile(path, a.config.MaxImageBytes)
	if err != nil {
		a.println("Error:", err)
		return err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	_, err = a.chat.SendImage(ctx, data, strings.Join(args[1:], " "), nil)
	return err
}

// Edit replaces the text of one of the user's messages.
func (a *App) Edit(ctx context.Context, args []string) error {
	id, err := parseID(args[0], errBadID)
	if err != nil {
		a.println("Error:", err)
		return err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	return a.chat.Edit(ctx, id, strings.Join(args[1:], " "))
}

// Delete removes one of the user's messages.
func (a *App) Delete(ctx context.Context, args []string) error {
	id, err := parseID(args[0], errBadID)
	if err != nil {
		a.println("Error:", err)
		return err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	return a.chat.Delete(ctx, id)
}

// Status prints the synchronization state of the open conversation.
func (a *App) Status(ctx context.Context) error {
	user, ok := a.identity.CurrentUserID()
	if !ok {
		user = "(not logged in)"
	}

	group := "(none)"
	if sess := a.chat.Session(); sess != nil {
		group = fmt.Sprintf("%d", sess.GroupID())
	}

	a.printf("user: %s\ngroup: %s\nmessages: %d\nmore history: %t\nstream: %s\nstatus: %s\n",
		user, group, len(a.chat.Messages()), a.chat.HasMore(), a.chat.StreamState(), a.chat.StatusMachine().Current())
	return nil
}

// Close leaves the open conversation.
func (a *App) Close(ctx context.Context) error {
	a.chat.Close()
	a.resetNewest()
	a.println("Conversation closed")
	return nil
}
