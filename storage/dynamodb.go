package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

// DynamoDBStore implements interfaces.CredentialStore on two DynamoDB tables:
// "<prefix>.Events" keyed by EventId and "<prefix>.Users" keyed by
// (Email, EventId). All reads are strongly consistent.
type DynamoDBStore struct {
	client      dynamodbiface.DynamoDBAPI
	eventsTable string
	usersTable  string
	log         *slog.Logger
}

// NewDynamoDBStore creates a store for the tables under prefix in region.
// endpoint may be set to target DynamoDB Local.
func NewDynamoDBStore(prefix, region, endpoint string, log *slog.Logger) (*DynamoDBStore, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewDynamoDBStoreWithClient(dynamodb.New(sess), prefix, log), nil
}

// NewDynamoDBStoreWithClient creates a store around an existing client.
func NewDynamoDBStoreWithClient(client dynamodbiface.DynamoDBAPI, prefix string, log *slog.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client:      client,
		eventsTable: prefix + ".Events",
		usersTable:  prefix + ".Users",
		log:         log,
	}
}

// stringSet marshals as a DynamoDB string set rather than a list.
type stringSet []string

func (s stringSet) MarshalDynamoDBAttributeValue(av *dynamodb.AttributeValue) error {
	av.SS = aws.StringSlice(s)
	return nil
}

// unixTime marshals as a number of seconds since the epoch.
type unixTime time.Time

func (t unixTime) MarshalDynamoDBAttributeValue(av *dynamodb.AttributeValue) error {
	av.N = aws.String(fmt.Sprintf("%d", time.Time(t).Unix()))
	return nil
}

// attributeValue adapts Go values to the attribute encoding used by the
// struct tags on interfaces.Event and interfaces.User.
func attributeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []string:
		return stringSet(v)
	case time.Time:
		return unixTime(v)
	}
	return value
}

func isConditionalCheckFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

func (s *DynamoDBStore) eventKey(eventID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		interfaces.EventFieldEventID: {S: aws.String(eventID)},
	}
}

func (s *DynamoDBStore) userKey(email, eventID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		interfaces.UserFieldEmail:   {S: aws.String(email)},
		interfaces.UserFieldEventID: {S: aws.String(eventID)},
	}
}

// GetEvent performs a consistent read of an event.
func (s *DynamoDBStore) GetEvent(ctx context.Context, eventID string) (*interfaces.Event, error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.eventsTable),
		Key:            s.eventKey(eventID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		s.log.Error("Failed to read event", slog.String("event_id", eventID), "err", err)
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: event %s", interfaces.ErrNotFound, eventID)
	}

	var event interfaces.Event
	if err := dynamodbattribute.UnmarshalMap(out.Item, &event); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", eventID, err)
	}
	return &event, nil
}

// PutEvent writes the provisioning defaults of an event. NextUID is
// initialised if missing and raised, never lowered, otherwise.
func (s *DynamoDBStore) PutEvent(ctx context.Context, event *interfaces.Event) error {
	nextUID := expression.Name(interfaces.EventFieldNextUID)
	update := expression.Set(nextUID, nextUID.IfNotExists(expression.Value(event.NextUID)))

	setOrRemove := func(field string, present bool, value interface{}) {
		if present {
			update = update.Set(expression.Name(field), expression.Value(attributeValue(value)))
		} else {
			update = update.Remove(expression.Name(field))
		}
	}
	setOrRemove(interfaces.EventFieldEventName, event.EventName != "", event.EventName)
	setOrRemove(interfaces.EventFieldAllowedSubnets, len(event.AllowedSubnets) > 0, event.AllowedSubnets)
	setOrRemove(interfaces.EventFieldDefaultAMI, event.DefaultAMI != "", event.DefaultAMI)
	setOrRemove(interfaces.EventFieldDefaultInstanceType, event.DefaultInstanceType != "", event.DefaultInstanceType)
	setOrRemove(interfaces.EventFieldDefaultSecurityGroup, event.DefaultSecurityGroup != "", event.DefaultSecurityGroup)
	setOrRemove(interfaces.EventFieldDefaultVolumeSize, event.DefaultVolumeSize != 0, event.DefaultVolumeSize)
	setOrRemove(interfaces.EventFieldEFSID, event.EFSID != "", event.EFSID)
	setOrRemove(interfaces.EventFieldAdminSSHKey, event.AdminSSHKey != "", event.AdminSSHKey)

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("build event update: %w", err)
	}

	_, err = s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.eventsTable),
		Key:                       s.eventKey(event.EventID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		s.log.Error("Failed to write event", slog.String("event_id", event.EventID), "err", err)
		return fmt.Errorf("put event %s: %w", event.EventID, err)
	}

	// Raise the counter if the seed asks for a higher starting point
	raise, err := expression.NewBuilder().
		WithUpdate(expression.Set(nextUID, expression.Value(event.NextUID))).
		WithCondition(nextUID.LessThan(expression.Value(event.NextUID))).
		Build()
	if err != nil {
		return fmt.Errorf("build counter update: %w", err)
	}

	_, err = s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.eventsTable),
		Key:                       s.eventKey(event.EventID),
		UpdateExpression:          raise.Update(),
		ConditionExpression:       raise.Condition(),
		ExpressionAttributeNames:  raise.Names(),
		ExpressionAttributeValues: raise.Values(),
	})
	if err != nil && !isConditionalCheckFailed(err) {
		return fmt.Errorf("raise NextUID of %s: %w", event.EventID, err)
	}

	s.log.Info("Stored event", slog.String("event_id", event.EventID))
	return nil
}

// GetUser performs a consistent read of a user.
func (s *DynamoDBStore) GetUser(ctx context.Context, email, eventID string) (*interfaces.User, error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.usersTable),
		Key:            s.userKey(email, eventID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		s.log.Error("Failed to read user", slog.String("event_id", eventID), "err", err)
		return nil, fmt.Errorf("get user: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: user %s in event %s", interfaces.ErrNotFound, email, eventID)
	}

	var user interfaces.User
	if err := dynamodbattribute.UnmarshalMap(out.Item, &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

// IncrementNextUID advances the event counter only if it equals expected.
func (s *DynamoDBStore) IncrementNextUID(ctx context.Context, eventID string, expected int64) error {
	nextUID := expression.Name(interfaces.EventFieldNextUID)
	expr, err := expression.NewBuilder().
		WithUpdate(expression.Set(nextUID, nextUID.Plus(expression.Value(1)))).
		WithCondition(nextUID.Equal(expression.Value(expected))).
		Build()
	if err != nil {
		return fmt.Errorf("build counter update: %w", err)
	}

	_, err = s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.eventsTable),
		Key:                       s.eventKey(eventID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return interfaces.ErrConflict
		}
		return fmt.Errorf("increment NextUID of %s: %w", eventID, err)
	}
	return nil
}

// CreateUserIfAbsent writes the user only if no record exists for its key.
func (s *DynamoDBStore) CreateUserIfAbsent(ctx context.Context, user *interfaces.User) error {
	item, err := dynamodbattribute.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(interfaces.UserFieldEventID))).
		Build()
	if err != nil {
		return fmt.Errorf("build user condition: %w", err)
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.usersTable),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return interfaces.ErrAlreadyExists
		}
		s.log.Error("Failed to create user", slog.String("event_id", user.EventID), "err", err)
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateUserField sets one attribute of an existing user.
func (s *DynamoDBStore) UpdateUserField(ctx context.Context, email, eventID, field string, value interface{}) error {
	if _, err := userColumn(field); err != nil {
		return err
	}
	return s.updateUser(ctx, email, eventID, expression.Set(expression.Name(field), expression.Value(attributeValue(value))))
}

// RemoveUserField removes one attribute of an existing user.
func (s *DynamoDBStore) RemoveUserField(ctx context.Context, email, eventID, field string) error {
	if _, err := userColumn(field); err != nil {
		return err
	}
	return s.updateUser(ctx, email, eventID, expression.Remove(expression.Name(field)))
}

// updateUser applies an update to an existing user record. The existence
// condition keeps a stray update from materialising a partial user.
func (s *DynamoDBStore) updateUser(ctx context.Context, email, eventID string, update expression.UpdateBuilder) error {
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name(interfaces.UserFieldEventID))).
		Build()
	if err != nil {
		return fmt.Errorf("build user update: %w", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.usersTable),
		Key:                      s.userKey(email, eventID),
		UpdateExpression:         expr.Update(),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	}
	if values := expr.Values(); len(values) > 0 {
		input.ExpressionAttributeValues = values
	}

	if _, err := s.client.UpdateItemWithContext(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("%w: user %s in event %s", interfaces.ErrNotFound, email, eventID)
		}
		s.log.Error("Failed to update user", slog.String("event_id", eventID), "err", err)
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// SetEventFieldIfAbsent sets an event attribute unless it already exists.
// The record is created if needed.
func (s *DynamoDBStore) SetEventFieldIfAbsent(ctx context.Context, eventID, field string, value interface{}) error {
	if _, err := eventColumn(field); err != nil {
		return err
	}

	name := expression.Name(field)
	expr, err := expression.NewBuilder().
		WithUpdate(expression.Set(name, name.IfNotExists(expression.Value(attributeValue(value))))).
		Build()
	if err != nil {
		return fmt.Errorf("build event update: %w", err)
	}
	return s.updateEvent(ctx, eventID, expr)
}

// UpdateEventField sets an event attribute unconditionally.
func (s *DynamoDBStore) UpdateEventField(ctx context.Context, eventID, field string, value interface{}) error {
	if _, err := eventColumn(field); err != nil {
		return err
	}

	expr, err := expression.NewBuilder().
		WithUpdate(expression.Set(expression.Name(field), expression.Value(attributeValue(value)))).
		Build()
	if err != nil {
		return fmt.Errorf("build event update: %w", err)
	}
	return s.updateEvent(ctx, eventID, expr)
}

// RemoveEventFieldIfPresent removes an event attribute, or returns
// ErrConflict when it does not exist.
func (s *DynamoDBStore) RemoveEventFieldIfPresent(ctx context.Context, eventID, field string) error {
	if _, err := eventColumn(field); err != nil {
		return err
	}

	name := expression.Name(field)
	expr, err := expression.NewBuilder().
		WithUpdate(expression.Remove(name)).
		WithCondition(expression.AttributeExists(name)).
		Build()
	if err != nil {
		return fmt.Errorf("build event update: %w", err)
	}

	err = s.updateEvent(ctx, eventID, expr)
	if isConditionalCheckFailed(err) {
		return interfaces.ErrConflict
	}
	return err
}

func (s *DynamoDBStore) updateEvent(ctx context.Context, eventID string, expr expression.Expression) error {
	input := &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.eventsTable),
		Key:                      s.eventKey(eventID),
		UpdateExpression:         expr.Update(),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	}
	if values := expr.Values(); len(values) > 0 {
		input.ExpressionAttributeValues = values
	}

	_, err := s.client.UpdateItemWithContext(ctx, input)
	if err != nil && !isConditionalCheckFailed(err) {
		s.log.Error("Failed to update event", slog.String("event_id", eventID), "err", err)
		return fmt.Errorf("update event %s: %w", eventID, err)
	}
	return err
}
