// internal/app/store/credentials/store.go
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/respondentpro/internal/domain/models"
	"github.com/gorilla/securecookie"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Collection is the name of the credential collection.
const Collection = "session_keys"

// sealName binds sealed values to this collection; a value sealed under
// another name does not open here.
const sealName = "session_keys"

var (
	// ErrNotFound is returned when no credentials are stored for a user.
	ErrNotFound = errors.New("session credentials not found")

	// ErrUnreadable is returned when stored cookies cannot be unsealed
	// (wrong keys or a corrupted value).
	ErrUnreadable = errors.New("session credentials unreadable")
)

// Store keeps upstream session cookies per user, sealed with an HMAC and,
// when a block key is configured, AES encryption.
type Store struct {
	c      *mongo.Collection
	sealer *securecookie.SecureCookie
	log    *zap.Logger
}

// New creates a credential store. hashKey must be 32 or 64 bytes; blockKey
// is optional (nil disables encryption) and otherwise 16, 24 or 32 bytes.
func New(db *mongo.Database, hashKey, blockKey []byte, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(0) // sealed cookies do not expire on their own
	sc.MaxLength(0)
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &Store{c: db.Collection(Collection), sealer: sc, log: logger}
}

func (s *Store) seal(cookies map[string]string) (string, error) {
	if len(cookies) == 0 {
		return "", nil
	}
	return s.sealer.Encode(sealName, cookies)
}

func (s *Store) open(c *models.SessionCredentials) error {
	if c.SealedCookies == "" {
		c.Cookies = nil
		return nil
	}
	var cookies map[string]string
	if err := s.sealer.Decode(sealName, c.SealedCookies, &cookies); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	c.Cookies = cookies
	return nil
}

// Get loads a user's credentials. Returns ErrNotFound when none are stored
// and ErrUnreadable (with the row's other fields filled) when the cookies
// cannot be opened.
func (s *Store) Get(ctx context.Context, userID string) (models.SessionCredentials, error) {
	var c models.SessionCredentials
	if err := s.c.FindOne(ctx, bson.M{"_id": userID}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.SessionCredentials{}, ErrNotFound
		}
		return models.SessionCredentials{}, err
	}
	if err := s.open(&c); err != nil {
		return c, err
	}
	return c, nil
}

// Save stores credentials for c.UserID, replacing any previous row.
// Cookies are sealed before they are written.
func (s *Store) Save(ctx context.Context, c models.SessionCredentials) error {
	if c.UserID == "" {
		return errors.New("credentials: user id is required")
	}
	sealed, err := s.seal(c.Cookies)
	if err != nil {
		return fmt.Errorf("seal cookies: %w", err)
	}
	c.SealedCookies = sealed
	c.UpdatedAt = time.Now().UTC()

	_, err = s.c.ReplaceOne(ctx, bson.M{"_id": c.UserID}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save credentials for %s: %w", c.UserID, err)
	}
	return nil
}

// List returns every stored credential row. Rows whose cookies cannot be
// opened are returned with nil Cookies and logged.
func (s *Store) List(ctx context.Context) ([]models.SessionCredentials, error) {
	cur, err := s.c.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.SessionCredentials
	for cur.Next(ctx) {
		var c models.SessionCredentials
		if err := cur.Decode(&c); err != nil {
			s.log.Warn("skip undecodable credential row", zap.Error(err))
			continue
		}
		if err := s.open(&c); err != nil {
			s.log.Warn("credential row unreadable", zap.String("user_id", c.UserID), zap.Error(err))
			c.Cookies = nil
		}
		out = append(out, c)
	}
	return out, cur.Err()
}

// Validity is the result of checking a stored session upstream.
type Validity struct {
	Valid     bool
	Message   string
	ProfileID string // set only when discovered
	CheckedAt time.Time
}

// MarkValidity records the outcome of a session check. A non-empty
// ProfileID replaces the stored one. Returns ErrNotFound when the row is
// gone.
func (s *Store) MarkValidity(ctx context.Context, userID string, v Validity) error {
	if v.CheckedAt.IsZero() {
		v.CheckedAt = time.Now().UTC()
	}
	set := bson.M{
		"is_valid":         v.Valid,
		"last_verified_at": v.CheckedAt.UTC(),
		"last_message":     v.Message,
		"updated_at":       time.Now().UTC(),
	}
	if v.ProfileID != "" {
		set["profile_id"] = v.ProfileID
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("mark validity for %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
