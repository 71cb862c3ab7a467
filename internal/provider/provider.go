package provider

import (
	"context"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
)

// CandidateQuery excludes categories that never need a personal reply
const CandidateQuery = "-category:promotions -category:social -category:updates -category:forums -category:spam"

// UnreadLabel is the Gmail system label for unread messages
const UnreadLabel = "UNREAD"

// Client is the narrow mailbox surface used by the service.
// Every call takes the token to use; refreshing is the caller's job.
type Client interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)

	ListCandidates(ctx context.Context, token *oauth2.Token, limit int) ([]string, error)
	GetMessage(ctx context.Context, token *oauth2.Token, id string) (*gmail.Message, error)
	Send(ctx context.Context, token *oauth2.Token, raw []byte, threadID string) (string, error)
	MarkRead(ctx context.Context, token *oauth2.Token, id string) error
}
