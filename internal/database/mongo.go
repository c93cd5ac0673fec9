package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"channel-access-bot/internal/apperr"
	"channel-access-bot/internal/config"
	"channel-access-bot/internal/models"
)

const (
	collectionUsers    = "users"
	collectionSettings = "admin_settings"
)

// MongoStore implements Store on MongoDB. Every write is a single-document
// update, so no transactions are needed.
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	settings *mongo.Collection
}

func ConnectMongo(ctx context.Context, cfg *config.Config) (*MongoStore, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.DatabaseURL).
		SetTimeout(cfg.RequestTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	log.Info().Str("database", cfg.MongoDatabase).Msg("Connected to MongoDB")

	db := client.Database(cfg.MongoDatabase)
	return &MongoStore{
		client:   client,
		users:    db.Collection(collectionUsers),
		settings: db.Collection(collectionSettings),
	}, nil
}

func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) InitSettings(ctx context.Context) (*models.Settings, error) {
	defaults := models.DefaultSettings()
	filter := bson.D{{Key: "_id", Value: models.SettingsID}}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "invite_duration_seconds", Value: defaults.InviteDurationSeconds},
		{Key: "updated_at", Value: time.Now().UTC()},
	}}}
	opts := options.Update().SetUpsert(true)
	if _, err := m.settings.UpdateOne(ctx, filter, update, opts); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "init settings")
	}
	return m.GetSettings(ctx)
}

func (m *MongoStore) GetSettings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	err := m.settings.FindOne(ctx, bson.D{{Key: "_id", Value: models.SettingsID}}).Decode(&settings)
	if errors.Is(err, mongo.ErrNoDocuments) {
		defaults := models.DefaultSettings()
		return &defaults, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "get settings")
	}
	return &settings, nil
}

func (m *MongoStore) SetChannel(ctx context.Context, channelID int64) error {
	return m.setSetting(ctx, "channel_id", channelID)
}

func (m *MongoStore) SetShortenerDomain(ctx context.Context, domain string) error {
	return m.setSetting(ctx, "shortener_domain", domain)
}

func (m *MongoStore) SetShortenerAPIKey(ctx context.Context, apiKey string) error {
	return m.setSetting(ctx, "shortener_api_key", apiKey)
}

func (m *MongoStore) SetInviteDuration(ctx context.Context, seconds int64) error {
	if seconds <= 0 {
		return apperr.NewValidation("invite duration", "must be positive")
	}
	return m.setSetting(ctx, "invite_duration_seconds", seconds)
}

func (m *MongoStore) setSetting(ctx context.Context, field string, value interface{}) error {
	filter := bson.D{{Key: "_id", Value: models.SettingsID}}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: field, Value: value},
			{Key: "updated_at", Value: time.Now().UTC()},
		}},
	}
	if field != "invite_duration_seconds" {
		update = append(update, bson.E{Key: "$setOnInsert", Value: bson.D{
			{Key: "invite_duration_seconds", Value: int64(models.DefaultInviteDurationSeconds)},
		}})
	}
	opts := options.Update().SetUpsert(true)
	if _, err := m.settings.UpdateOne(ctx, filter, update, opts); err != nil {
		return apperr.Wrapf(err, apperr.CodeInternal, "update settings %s", field)
	}
	return nil
}

func (m *MongoStore) ResetSettings(ctx context.Context) (bool, error) {
	current, err := m.GetSettings(ctx)
	if err != nil {
		return false, err
	}
	existed := !isDefault(current)

	defaults := models.DefaultSettings()
	defaults.UpdatedAt = time.Now().UTC()
	filter := bson.D{{Key: "_id", Value: models.SettingsID}}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.settings.ReplaceOne(ctx, filter, defaults, opts); err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "reset settings")
	}
	return existed, nil
}

func (m *MongoStore) UpsertUser(ctx context.Context, userID int64) (*models.User, bool, error) {
	now := time.Now().UTC()
	filter := bson.D{{Key: "_id", Value: userID}}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "has_received_free_link", Value: false},
		{Key: "created_at", Value: now},
		{Key: "updated_at", Value: now},
	}}}
	res, err := m.users.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return nil, false, apperr.Wrap(err, apperr.CodeInternal, "create user")
	}

	var user models.User
	if err := m.users.FindOne(ctx, filter).Decode(&user); err != nil {
		return nil, false, apperr.Wrap(err, apperr.CodeInternal, "load user")
	}
	return &user, res.UpsertedCount == 1, nil
}

func (m *MongoStore) UserExists(ctx context.Context, userID int64) (bool, error) {
	count, err := m.users.CountDocuments(ctx, bson.D{{Key: "_id", Value: userID}}, options.Count().SetLimit(1))
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "check user")
	}
	return count > 0, nil
}

func (m *MongoStore) MarkGranted(ctx context.Context, userID int64, free bool, at time.Time) error {
	set := bson.D{
		{Key: "last_link_at", Value: at.UTC()},
		{Key: "updated_at", Value: time.Now().UTC()},
	}
	if free {
		set = append(set, bson.E{Key: "has_received_free_link", Value: true})
	}
	res, err := m.users.UpdateOne(ctx, bson.D{{Key: "_id", Value: userID}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "mark grant")
	}
	if res.MatchedCount == 0 {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("user %d not found", userID))
	}
	return nil
}

func (m *MongoStore) CountUsers(ctx context.Context) (int64, error) {
	count, err := m.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeInternal, "count users")
	}
	return count, nil
}

func (m *MongoStore) UserIDs(ctx context.Context) ([]int64, error) {
	opts := options.Find().
		SetProjection(bson.D{{Key: "_id", Value: 1}}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := m.users.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "list users")
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID int64 `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "list users")
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}
