package relay

import (
	"log/slog"

	"chat-relay/repositories"
)

// Router decides, per recipient, between live delivery to a registered peer
// and store-and-forward through the message log. Every outcome lands in the
// log except successful delivery to a synthetic responder, which keeps no
// history.
type Router struct {
	registry *Registry
	users    repositories.IUserRepository
	messages repositories.IMessageRepository
	log      *slog.Logger
}

func NewRouter(registry *Registry, users repositories.IUserRepository,
	messages repositories.IMessageRepository, log *slog.Logger) *Router {
	return &Router{registry: registry, users: users, messages: messages, log: log}
}

// Route delivers text from sender to one recipient name. Failures never
// propagate to the caller: a recipient that cannot be reached live falls
// back to the persisted log, and a storage failure aborts only this leg.
// The sender's own history is not written.
func (r *Router) Route(sender Peer, recipient, text string) {
	senderID, _ := sender.UserID()

	if peer, ok := r.registry.FindByName(recipient); ok {
		err := peer.Deliver(sender.Name(), text)
		if err == nil {
			receiverID, hasID := peer.UserID()
			if !hasID {
				// Synthetic responders never query their history.
				return
			}
			r.append(repositories.StoredMessage{
				SenderID:   senderID,
				SenderName: sender.Name(),
				ReceiverID: receiverID,
				Text:       text,
				Delivered:  true,
			})
			return
		}
		// Target vanished mid-send: same as not found
		r.log.Warn("Live delivery failed, falling back to store-and-forward",
			"recipient", recipient, "error", err)
	}

	receiverID, found, err := r.users.Exists(recipient)
	if err != nil {
		r.log.Error("Receiver lookup failed, dropping message", "recipient", recipient, "error", err)
		return
	}
	if !found {
		r.log.Warn("Recipient resolves to no known user, persisting anyway", "recipient", recipient)
	}
	r.append(repositories.StoredMessage{
		SenderID:   senderID,
		SenderName: sender.Name(),
		ReceiverID: receiverID,
		Text:       text,
		Delivered:  false,
	})
}

func (r *Router) append(message repositories.StoredMessage) {
	if _, err := r.messages.Append(message); err != nil {
		r.log.Error("Failed to record message", "receiver", message.ReceiverID, "error", err)
	}
}
