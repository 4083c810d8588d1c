package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/rcliao/agent-recall/internal/model"
)

// CollectionMemories is the MongoDB collection holding memories.
const CollectionMemories = "memories"

// MongoStore implements Store on MongoDB. Related ids live on each document.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	dbName string
}

type mongoMemory struct {
	ID              string     `bson:"_id"`
	SessionID       string     `bson:"session_id"`
	Type            string     `bson:"type"`
	Key             string     `bson:"key"`
	Value           string     `bson:"value"`
	Text            string     `bson:"text"`
	TextLower       string     `bson:"text_lower"`
	Embedding       []float32  `bson:"embedding,omitempty"`
	Confidence      float64    `bson:"confidence"`
	ImportanceScore float64    `bson:"importance_score"`
	SourceTurn      int        `bson:"source_turn"`
	LastUsedTurn    int        `bson:"last_used_turn"`
	AccessCount     int        `bson:"access_count"`
	IsActive        bool       `bson:"is_active"`
	Tags            []string   `bson:"tags,omitempty"`
	Related         []string   `bson:"related,omitempty"`
	Context         string     `bson:"context,omitempty"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       *time.Time `bson:"updated_at,omitempty"`
}

func toMongo(m *model.Memory) mongoMemory {
	return mongoMemory{
		ID:              m.ID,
		SessionID:       m.SessionID,
		Type:            string(m.Type),
		Key:             m.Key,
		Value:           m.Value,
		Text:            m.Text,
		TextLower:       strings.ToLower(m.Text),
		Embedding:       m.Embedding,
		Confidence:      m.Confidence,
		ImportanceScore: m.ImportanceScore,
		SourceTurn:      m.SourceTurn,
		LastUsedTurn:    m.LastUsedTurn,
		AccessCount:     m.AccessCount,
		IsActive:        m.IsActive,
		Tags:            m.Tags,
		Related:         m.RelatedMemories,
		Context:         m.Context,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func (d mongoMemory) toModel() model.Memory {
	return model.Memory{
		ID:              d.ID,
		SessionID:       d.SessionID,
		Type:            model.Type(d.Type),
		Key:             d.Key,
		Value:           d.Value,
		Text:            d.Text,
		Embedding:       d.Embedding,
		Confidence:      d.Confidence,
		ImportanceScore: d.ImportanceScore,
		SourceTurn:      d.SourceTurn,
		LastUsedTurn:    d.LastUsedTurn,
		AccessCount:     d.AccessCount,
		IsActive:        d.IsActive,
		Tags:            d.Tags,
		RelatedMemories: d.Related,
		Context:         d.Context,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// NewMongoStore connects to uri and prepares indexes on database dbName.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	if dbName == "" {
		dbName = "agent_recall"
	}
	s := &MongoStore{
		client: client,
		coll:   client.Database(dbName).Collection(CollectionMemories),
		dbName: dbName,
	}

	_, err = s.coll.Indexes().CreateMany(connectCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "key", Value: 1}, {Key: "is_active", Value: 1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "is_active", Value: 1}, {Key: "type", Value: 1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "text_lower", Value: 1}}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) Insert(ctx context.Context, m *model.Memory) error {
	return s.InsertReplacing(ctx, m, nil)
}

// InsertReplacing writes m before touching the replaced documents, so a
// failed insert leaves them active. Standalone servers have no transactions.
func (s *MongoStore) InsertReplacing(ctx context.Context, m *model.Memory, replaced []string) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.LastUsedTurn < m.SourceTurn {
		m.LastUsedTurn = m.SourceTurn
	}
	if _, err := s.coll.InsertOne(ctx, toMongo(m)); err != nil {
		return storeErr("insert", fmt.Errorf("insert memory: %w", err))
	}
	for _, rel := range m.RelatedMemories {
		if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": rel}, bson.M{"$addToSet": bson.M{"related": m.ID}}); err != nil {
			return storeErr("insert", fmt.Errorf("link %s: %w", rel, err))
		}
	}
	if len(replaced) > 0 {
		_, err := s.coll.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": replaced}},
			bson.M{"$set": bson.M{"is_active": false, "updated_at": time.Now().UTC()}})
		if err != nil {
			return storeErr("insert", fmt.Errorf("deactivate replaced: %w", err))
		}
	}
	return nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]model.Memory, error) {
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []mongoMemory
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Memory, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (s *MongoStore) FindBySession(ctx context.Context, p FindParams) ([]model.Memory, error) {
	filter := bson.M{"session_id": p.SessionID}
	if p.ActiveOnly {
		filter["is_active"] = true
	}
	if len(p.Types) > 0 {
		types := make([]string, len(p.Types))
		for i, t := range p.Types {
			types[i] = string(t)
		}
		filter["type"] = bson.M{"$in": types}
	}
	mems, err := s.find(ctx, filter)
	return mems, storeErr("find by session", err)
}

func (s *MongoStore) FindByKey(ctx context.Context, sessionID, key string, activeOnly bool) ([]model.Memory, error) {
	filter := bson.M{"session_id": sessionID, "key": key}
	if activeOnly {
		filter["is_active"] = true
	}
	mems, err := s.find(ctx, filter)
	return mems, storeErr("find by key", err)
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*model.Memory, error) {
	var d mongoMemory
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find by id", err)
	}
	m := d.toModel()
	return &m, nil
}

func (s *MongoStore) FindByText(ctx context.Context, sessionID, text string) ([]model.Memory, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	mems, err := s.find(ctx, bson.M{
		"session_id": sessionID,
		"is_active":  true,
		"text_lower": strings.ToLower(text),
	})
	return mems, storeErr("find by text", err)
}

// Search matches the query substring against key, value and text, ignoring case.
func (s *MongoStore) Search(ctx context.Context, p SearchParams) ([]model.Memory, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	pattern := bson.M{"$regex": regexp.QuoteMeta(p.Query), "$options": "i"}
	filter := bson.M{"$or": bson.A{
		bson.M{"key": pattern},
		bson.M{"value": pattern},
		bson.M{"text": pattern},
	}}
	if p.SessionID != "" {
		filter["session_id"] = p.SessionID
	}
	if p.ActiveOnly {
		filter["is_active"] = true
	}

	cur, err := s.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, storeErr("search", err)
	}
	defer cur.Close(ctx)
	var docs []mongoMemory
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storeErr("search", err)
	}
	out := make([]model.Memory, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (s *MongoStore) UpdateFields(ctx context.Context, id string, f Fields) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	update := bson.M{"$set": set}
	if f.IsActive != nil {
		set["is_active"] = *f.IsActive
	}
	if f.ImportanceScore != nil {
		set["importance_score"] = *f.ImportanceScore
	}
	if f.LastUsedTurn != nil {
		update["$max"] = bson.M{"last_used_turn": *f.LastUsedTurn}
	}
	if f.AccessCountIncr != 0 {
		update["$inc"] = bson.M{"access_count": f.AccessCountIncr}
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return storeErr("update", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Link(ctx context.Context, fromID, toID string) error {
	if fromID == toID {
		return storeErr("link", fmt.Errorf("cannot link memory %s to itself", fromID))
	}
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": []string{fromID, toID}}})
	if err != nil {
		return storeErr("link", err)
	}
	if n < 2 {
		return ErrNotFound
	}
	for _, pair := range [][2]string{{fromID, toID}, {toID, fromID}} {
		if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": pair[0]}, bson.M{"$addToSet": bson.M{"related": pair[1]}}); err != nil {
			return storeErr("link", err)
		}
	}
	return nil
}

func (s *MongoStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":      "$session_id",
			"total":    bson.M{"$sum": 1},
			"active":   bson.M{"$sum": bson.M{"$cond": bson.A{"$is_active", 1, 0}}},
			"keys":     bson.M{"$addToSet": bson.M{"$cond": bson.A{"$is_active", "$key", "$$REMOVE"}}},
			"max_turn": bson.M{"$max": "$source_turn"},
		}}},
		{{Key: "$project", Value: bson.M{
			"total": 1, "active": 1, "max_turn": 1,
			"keys": bson.M{"$size": "$keys"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "total", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storeErr("sessions", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		ID      string `bson:"_id"`
		Total   int    `bson:"total"`
		Active  int    `bson:"active"`
		Keys    int    `bson:"keys"`
		MaxTurn int    `bson:"max_turn"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, storeErr("sessions", err)
	}
	out := make([]SessionInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, SessionInfo{SessionID: r.ID, Total: r.Total, Active: r.Active, Keys: r.Keys, MaxTurn: r.MaxTurn})
	}
	return out, nil
}

func (s *MongoStore) ClearSession(ctx context.Context, sessionID string) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return 0, storeErr("clear session", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.dbName, ActiveByType: map[string]int{}}

	counts := []struct {
		filter bson.M
		dst    *int
	}{
		{bson.M{}, &st.TotalMemories},
		{bson.M{"is_active": true}, &st.ActiveMemories},
		{bson.M{"embedding": bson.M{"$exists": true}}, &st.WithEmbedding},
	}
	for _, c := range counts {
		n, err := s.coll.CountDocuments(ctx, c.filter)
		if err != nil {
			return nil, storeErr("stats", err)
		}
		*c.dst = int(n)
	}

	cur, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"is_active": true}}},
		{{Key: "$group", Value: bson.M{"_id": "$type", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, storeErr("stats", err)
	}
	var byType []struct {
		Type string `bson:"_id"`
		N    int    `bson:"n"`
	}
	if err := cur.All(ctx, &byType); err != nil {
		return nil, storeErr("stats", err)
	}
	for _, t := range byType {
		st.ActiveByType[t.Type] = t.N
	}

	cur, err = s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": nil, "n": bson.M{"$sum": bson.M{"$size": bson.M{"$ifNull": bson.A{"$related", bson.A{}}}}}}}},
	})
	if err != nil {
		return nil, storeErr("stats", err)
	}
	var links []struct {
		N int `bson:"n"`
	}
	if err := cur.All(ctx, &links); err != nil {
		return nil, storeErr("stats", err)
	}
	if len(links) > 0 {
		st.Links = links[0].N / 2
	}

	if st.Sessions, err = s.Sessions(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *MongoStore) ExportAll(ctx context.Context, sessionID string) ([]model.Memory, error) {
	filter := bson.M{}
	if sessionID != "" {
		filter["session_id"] = sessionID
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "session_id", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, storeErr("export", err)
	}
	defer cur.Close(ctx)
	var docs []mongoMemory
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storeErr("export", err)
	}
	out := make([]model.Memory, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

// Import inserts memories keeping their ids; existing ids are skipped.
// Related ids pointing outside the imported set are dropped.
func (s *MongoStore) Import(ctx context.Context, memories []model.Memory) (int, error) {
	ids := make(map[string]bool, len(memories))
	for _, m := range memories {
		ids[m.ID] = true
	}
	imported := 0
	for _, m := range memories {
		if m.ID == "" {
			m.ID = newID()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		if m.LastUsedTurn < m.SourceTurn {
			m.LastUsedTurn = m.SourceTurn
		}
		var related []string
		for _, r := range m.RelatedMemories {
			if ids[r] && r != m.ID {
				related = append(related, r)
			}
		}
		m.RelatedMemories = related
		m.Tags = model.NormalizeTags(m.Tags)

		_, err := s.coll.InsertOne(ctx, toMongo(&m))
		if mongo.IsDuplicateKeyError(err) {
			continue
		}
		if err != nil {
			return imported, storeErr("import", fmt.Errorf("memory %s: %w", m.ID, err))
		}
		imported++
	}
	return imported, nil
}

// Drop removes the whole database. Used by tests.
func (s *MongoStore) Drop(ctx context.Context) error {
	return s.client.Database(s.dbName).Drop(ctx)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
