package store

import "time"

// DefaultSubject is stored when an inbound message arrives without one.
const DefaultSubject = "(No Subject)"

type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	URL         string `json:"url,omitempty"`
}

type InboundEmail struct {
	ID               string       `json:"id"`
	MessageID        string       `json:"messageId"`
	From             Address      `json:"from"`
	To               []Address    `json:"to"`
	Cc               []Address    `json:"cc"`
	Bcc              []Address    `json:"bcc"`
	Subject          string       `json:"subject"`
	Text             string       `json:"text,omitempty"`
	HTML             string       `json:"html,omitempty"`
	Attachments      []Attachment `json:"attachments"`
	ReplyTo          *Address     `json:"replyTo,omitempty"`
	InReplyTo        string       `json:"inReplyTo,omitempty"`
	References       []string     `json:"references"`
	Read             bool         `json:"read"`
	Starred          bool         `json:"starred"`
	Archived         bool         `json:"archived"`
	Labels           []string     `json:"labels"`
	ForwardedToGmail bool         `json:"forwardedToGmail"`
	ForwardedAt      *time.Time   `json:"forwardedAt,omitempty"`
	ReceivedAt       time.Time    `json:"receivedAt"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
	Raw              []byte       `json:"-"`
}

// InboundPatch carries the admin-editable flags. Nil fields are left alone.
type InboundPatch struct {
	Read     *bool
	Starred  *bool
	Archived *bool
	Labels   *[]string
}

type InboundFilter struct {
	Read     *bool
	Starred  *bool
	Archived *bool
	Search   string
	Limit    int
	Skip     int
}

type InboundPage struct {
	Emails      []InboundEmail
	Total       int
	UnreadCount int
}

// EnquiryStatuses is the fixed set used by the admin board for grouping.
var EnquiryStatuses = []string{
	"New",
	"Qualified",
	"In Progress",
	"Proposal Sent",
	"Closed Won",
	"Closed Lost",
	"On Hold",
}

const DefaultEnquiryStatus = "New"

type Enquiry struct {
	ID          string    `json:"id"`
	FullName    string    `json:"fullName"`
	Email       string    `json:"email"`
	Company     string    `json:"company,omitempty"`
	ProjectType string    `json:"projectType,omitempty"`
	Idea        string    `json:"idea,omitempty"`
	Budget      string    `json:"budget,omitempty"`
	Timeline    string    `json:"timeline,omitempty"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes"`
	Tags        []string  `json:"tags"`
	Assignee    string    `json:"assignee"`
	DueDate     string    `json:"dueDate"`
	Links       []string  `json:"links"`
	Spam        bool      `json:"spam"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type EnquiryPatch struct {
	FullName    *string   `json:"fullName"`
	Email       *string   `json:"email"`
	Company     *string   `json:"company"`
	ProjectType *string   `json:"projectType"`
	Idea        *string   `json:"idea"`
	Budget      *string   `json:"budget"`
	Timeline    *string   `json:"timeline"`
	Status      *string   `json:"status"`
	Notes       *string   `json:"notes"`
	Tags        *[]string `json:"tags"`
	Assignee    *string   `json:"assignee"`
	DueDate     *string   `json:"dueDate"`
	Links       *[]string `json:"links"`
	Spam        *bool     `json:"spam"`
}

type EnquiryFilter struct {
	Status string
	Search string
}

type Subscriber struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Source       string    `json:"source,omitempty"`
	SubscribedAt time.Time `json:"subscribedAt"`
}
