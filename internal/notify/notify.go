package notify

import (
	"context"
	"fmt"
	"strings"
)

// Type is the closed set of outbound notification types.
type Type string

const (
	TypeJobAssigned     Type = "job_assigned"
	TypeJobStatusChange Type = "job_status_change"
	TypeJobCompleted    Type = "job_completed"
	TypeJobRevision     Type = "job_revision"
	TypeWorkerWelcome   Type = "worker_welcome"
)

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	switch t {
	case TypeJobAssigned, TypeJobStatusChange, TypeJobCompleted, TypeJobRevision, TypeWorkerWelcome:
		return true
	}
	return false
}

// Notification is a rendered-and-ready outbound message request.
type Notification struct {
	Type           Type
	RecipientEmail string
	Data           map[string]string
}

// Sender delivers a notification through an external provider. A failed send
// must never roll back job state; the queue's retry policy owns recovery.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

type template struct {
	subject string
	body    string
}

// Templates are deliberately plain; the delivery provider may wrap them in
// branded HTML.
var templates = map[Type]template{
	TypeJobAssigned: {
		subject: "New job assigned: {{title}}",
		body:    "You have been assigned \"{{title}}\". Estimated hours: {{estimated_hours}}.",
	},
	TypeJobStatusChange: {
		subject: "Job update: {{title}}",
		body:    "Your job \"{{title}}\" is now {{status}}.",
	},
	TypeJobCompleted: {
		subject: "Job completed: {{title}}",
		body:    "Your job \"{{title}}\" was completed and rated {{rating}}/5.",
	},
	TypeJobRevision: {
		subject: "Revision requested: {{title}}",
		body:    "The client requested changes on \"{{title}}\". Check the job messages for details.",
	},
	TypeWorkerWelcome: {
		subject: "Welcome to the marketplace",
		body:    "Hi {{name}}, your worker profile is live. Set your availability to start receiving jobs.",
	},
}

// Render produces the subject and body for a notification, substituting
// {{key}} placeholders from the payload data.
func Render(n Notification) (subject, body string, err error) {
	tpl, ok := templates[n.Type]
	if !ok {
		return "", "", fmt.Errorf("no template for notification type %q", n.Type)
	}
	return substitute(tpl.subject, n.Data), substitute(tpl.body, n.Data), nil
}

func substitute(s string, data map[string]string) string {
	for key, value := range data {
		s = strings.ReplaceAll(s, "{{"+key+"}}", value)
	}
	return s
}
