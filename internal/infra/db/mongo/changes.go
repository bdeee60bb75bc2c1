package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ncpwheels/internal/app/live"
	domainchat "ncpwheels/internal/domain/chat"
)

// ChangeFeed turns the database change stream into live signals. Change streams need a
// replica set; on a standalone server Run fails immediately.
type ChangeFeed struct {
	DB *mongo.Database
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	NS            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.Raw `bson:"fullDocument"`
}

func (f ChangeFeed) Run(ctx context.Context, emit func(live.Signal)) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"ns.coll":       bson.M{"$in": []string{conversationsCollection, messagesCollection}},
			"operationType": bson.M{"$in": []string{"insert", "update", "replace"}},
		}}},
	}
	stream, err := f.DB.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return fmt.Errorf("mongo: open change stream: %w", err)
	}
	defer stream.Close(context.WithoutCancel(ctx))

	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			return fmt.Errorf("mongo: decode change: %w", err)
		}
		if sig, ok := signalFromChange(ev); ok {
			emit(sig)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("mongo: change stream: %w", err)
	}
	return ctx.Err()
}

func signalFromChange(ev changeEvent) (live.Signal, bool) {
	switch ev.NS.Coll {
	case conversationsCollection:
		sig := live.Signal{ConversationID: domainchat.ConversationID(ev.DocumentKey.ID), Conversations: true}
		if len(ev.FullDocument) > 0 {
			var doc struct {
				Participants []string `bson:"participants"`
			}
			if err := bson.Unmarshal(ev.FullDocument, &doc); err == nil {
				sig.Participants = doc.Participants
			}
		}
		return sig, sig.ConversationID != ""
	case messagesCollection:
		if len(ev.FullDocument) == 0 {
			return live.Signal{}, false
		}
		var doc struct {
			ConversationID string `bson:"conversation_id"`
		}
		if err := bson.Unmarshal(ev.FullDocument, &doc); err != nil || doc.ConversationID == "" {
			return live.Signal{}, false
		}
		return live.Signal{ConversationID: domainchat.ConversationID(doc.ConversationID), Messages: true}, true
	}
	return live.Signal{}, false
}

var _ live.Source = ChangeFeed{}
