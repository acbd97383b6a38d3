package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	chk "github.com/streamworks/kcl/clientlibrary/checkpoint"
	"github.com/streamworks/kcl/clientlibrary/config"
	par "github.com/streamworks/kcl/clientlibrary/partition"
	"github.com/streamworks/kcl/logger"
)

// shardIDAttr is the table's partition key attribute name.
const shardIDAttr = "ShardID"

// leaseAttr is the nested map attribute holding every lease/checkpoint
// field. Conditional updates referencing Lease.<field> against an item
// whose Lease map does not yet exist fail structurally — recovered by
// seedLeaseMap below.
const leaseAttr = "Lease"

// DynamoCheckpoint implements checkpoint.Checkpointer against a DynamoDB
// table with one item per shard. It is the default checkpoint backend:
// worker.NewWorker uses it unless WithCheckpointer supplies another.
type DynamoCheckpoint struct {
	log       logger.Logger
	client    DynamoDBAPI
	kclConfig *config.KinesisClientLibConfiguration

	tableName string
	endpoint  string
}

// NewDynamoCheckpoint creates a DynamoDB-backed checkpointer for the
// table named by kclConfig.TableName (defaults to ApplicationName).
func NewDynamoCheckpoint(kclConfig *config.KinesisClientLibConfiguration) *DynamoCheckpoint {
	return &DynamoCheckpoint{
		log:       kclConfig.Logger,
		kclConfig: kclConfig,
		tableName: kclConfig.TableName,
		endpoint:  kclConfig.DynamoDBEndpoint,
	}
}

// WithDynamoDB injects a pre-configured client, useful for testing or for
// pointing at a local DynamoDB endpoint.
func (c *DynamoCheckpoint) WithDynamoDB(client DynamoDBAPI) *DynamoCheckpoint {
	c.client = client
	return c
}

// Init establishes the DynamoDB client (if none was injected) and ensures
// the lease table exists, creating it on-demand if necessary.
func (c *DynamoCheckpoint) Init() error {
	c.log.Infof("Creating DynamoDB session for table %s", c.tableName)

	if c.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(c.kclConfig.RegionName),
			awsconfig.WithCredentialsProvider(credentialsOrDefault(c.kclConfig.DynamoDBCredentials)),
		)
		if err != nil {
			return fmt.Errorf("loading aws config: %w", err)
		}

		c.client = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			if c.endpoint != "" {
				o.BaseEndpoint = aws.String(c.endpoint)
			}
		})
	}

	return c.ensureTable()
}

func credentialsOrDefault(p aws.CredentialsProvider) aws.CredentialsProvider {
	if p != nil {
		return p
	}
	return aws.AnonymousCredentials{}
}

func (c *DynamoCheckpoint) ensureTable() error {
	ctx := context.Background()

	_, err := c.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.tableName)})
	if err == nil {
		return nil
	}

	var notFound *ddbtypes.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describe table %s: %w", c.tableName, err)
	}

	c.log.Infof("Lease table %s does not exist, creating it", c.tableName)

	_, err = c.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(c.tableName),
		BillingMode: ddbtypes.BillingModePayPerRequest,
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String(shardIDAttr), KeyType: ddbtypes.KeyTypeHash},
		},
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String(shardIDAttr), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
	})
	if err != nil {
		var inUse *ddbtypes.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil
		}
		return fmt.Errorf("create table %s: %w", c.tableName, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(c.client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.tableName)}, 2*time.Minute)
}

// GetLease attempts to gain a lock on the given shard, mirroring the
// Redis backend's Lua-script CAS with the same observable behavior:
// SHARD_CLAIMED when another worker's steal claim is active and
// not expired, chk.ErrLeaseNotAcquired when the current lease is live
// and held by someone else, nil on success.
func (c *DynamoCheckpoint) GetLease(shard *par.ShardStatus, newAssignTo string) error {
	ctx := context.Background()
	now := time.Now().UTC()
	newLeaseTimeout := now.Add(time.Duration(c.kclConfig.FailoverTimeMillis) * time.Millisecond)

	current, err := c.getLeaseItem(ctx, shard.ID)
	if err != nil {
		return err
	}

	if c.kclConfig.EnableLeaseStealing && current.claimRequest != "" && current.claimRequest != newAssignTo && !claimExpired(current.claimRequestAt, c.kclConfig) {
		return errors.New(chk.ErrShardClaimed)
	}

	if current.assignedTo != "" && current.assignedTo != newAssignTo && now.Before(current.leaseTimeout) {
		if !c.kclConfig.EnableLeaseStealing || !claimExpired(current.claimRequestAt, c.kclConfig) {
			return chk.ErrLeaseNotAcquired{Cause: "current lease timeout not yet expired"}
		}
	}

	err = withThrottleRetry(c.log, "GetLease", func() error {
		return c.writeLease(ctx, shard.ID, newAssignTo, newLeaseTimeout, current.assignedTo, now)
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return chk.ErrLeaseNotAcquired{Cause: "lease was acquired by another worker"}
		}
		return err
	}

	shard.Mux.Lock()
	shard.AssignedTo = newAssignTo
	shard.LeaseTimeout = newLeaseTimeout
	shard.Mux.Unlock()

	return nil
}

// writeLease performs the conditional UpdateItem that actually claims the
// lease, recovering once from the structural "Lease map does not exist"
// failure on a brand-new item.
func (c *DynamoCheckpoint) writeLease(ctx context.Context, shardID, newAssignTo string, newLeaseTimeout time.Time, expectedOwner string, now time.Time) error {
	build := func() (*dynamodb.UpdateItemInput, error) {
		cond := expression.Or(
			expression.AttributeNotExists(expression.Name(leaseAttr+".AssignedTo")),
			expression.Name(leaseAttr+".AssignedTo").Equal(expression.Value(newAssignTo)),
			expression.Name(leaseAttr+".LeaseTimeout").LessThan(expression.Value(now.Format(time.RFC3339Nano))),
		)

		upd := expression.Set(expression.Name(leaseAttr+".AssignedTo"), expression.Value(newAssignTo)).
			Set(expression.Name(leaseAttr+".LeaseTimeout"), expression.Value(newLeaseTimeout.Format(time.RFC3339Nano))).
			Set(expression.Name(leaseAttr+".Heartbeat"), expression.Value(now.Format(time.RFC3339Nano))).
			Remove(expression.Name(leaseAttr + ".ClaimRequest"))

		expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(upd).Build()
		if err != nil {
			return nil, fmt.Errorf("building lease update expression: %w", err)
		}

		return &dynamodb.UpdateItemInput{
			TableName:                 aws.String(c.tableName),
			Key:                       map[string]ddbtypes.AttributeValue{shardIDAttr: &ddbtypes.AttributeValueMemberS{Value: shardID}},
			ConditionExpression:       expr.Condition(),
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}, nil
	}

	input, err := build()
	if err != nil {
		return err
	}

	_, err = c.client.UpdateItem(ctx, input)
	if err == nil {
		return nil
	}

	if !isStructuralPathError(err) {
		return err
	}

	// The Lease map does not exist yet on this item. Seed it, then
	// retry the original update exactly once.
	if seedErr := c.seedLeaseMap(ctx, shardID); seedErr != nil {
		return fmt.Errorf("seeding lease map after structural error %v: %w", err, seedErr)
	}

	input, err = build()
	if err != nil {
		return err
	}

	_, err = c.client.UpdateItem(ctx, input)
	return err
}

// seedLeaseMap sets an empty Lease map on the shard's item if it does not
// already have one, creating the item if necessary.
func (c *DynamoCheckpoint) seedLeaseMap(ctx context.Context, shardID string) error {
	upd := expression.Set(expression.Name(leaseAttr), expression.IfNotExists(expression.Name(leaseAttr), expression.Value(map[string]interface{}{})))
	expr, err := expression.NewBuilder().WithUpdate(upd).Build()
	if err != nil {
		return fmt.Errorf("building seed-lease expression: %w", err)
	}

	_, err = c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       map[string]ddbtypes.AttributeValue{shardIDAttr: &ddbtypes.AttributeValueMemberS{Value: shardID}},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

// isStructuralPathError reports whether err is DynamoDB's validation
// failure for referencing a document path under a map attribute that
// does not exist yet.
func isStructuralPathError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.ErrorCode() != "ValidationException" {
		return false
	}
	return strings.Contains(apiErr.ErrorMessage(), "document path")
}

func claimExpired(claimedAt time.Time, cfg *config.KinesisClientLibConfiguration) bool {
	if claimedAt.IsZero() {
		return true
	}
	timeout := time.Duration(cfg.LeaseStealingClaimTimeoutMillis) * time.Millisecond
	return time.Now().UTC().After(claimedAt.Add(timeout))
}

// leaseItem is the decoded view of one shard's Lease map, used to decide
// whether GetLease/ClaimShard may proceed before issuing the conditional
// write.
type leaseItem struct {
	assignedTo     string
	leaseTimeout   time.Time
	checkpoint     string
	parentShardID  string
	claimRequest   string
	claimRequestAt time.Time
	heartbeat      time.Time
}

func (c *DynamoCheckpoint) getLeaseItem(ctx context.Context, shardID string) (leaseItem, error) {
	var out *dynamodb.GetItemOutput
	err := withThrottleRetry(c.log, "GetItem", func() error {
		var getErr error
		out, getErr = c.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(c.tableName),
			Key:            map[string]ddbtypes.AttributeValue{shardIDAttr: &ddbtypes.AttributeValueMemberS{Value: shardID}},
			ConsistentRead: aws.Bool(true),
		})
		return getErr
	})
	if err != nil {
		return leaseItem{}, fmt.Errorf("get lease item for shard %s: %w", shardID, err)
	}

	if out.Item == nil {
		return leaseItem{}, nil
	}

	lease, ok := out.Item[leaseAttr]
	if !ok {
		return leaseItem{}, nil
	}

	leaseMap, ok := lease.(*ddbtypes.AttributeValueMemberM)
	if !ok {
		return leaseItem{}, nil
	}

	item := leaseItem{}
	if v, ok := stringAttr(leaseMap.Value, "AssignedTo"); ok {
		item.assignedTo = v
	}
	if v, ok := stringAttr(leaseMap.Value, "LeaseTimeout"); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			item.leaseTimeout = t
		}
	}
	if v, ok := stringAttr(leaseMap.Value, "Checkpoint"); ok {
		item.checkpoint = v
	}
	if v, ok := stringAttr(leaseMap.Value, "ParentShardId"); ok {
		item.parentShardID = v
	}
	if v, ok := stringAttr(leaseMap.Value, "ClaimRequest"); ok {
		item.claimRequest = v
	}
	if v, ok := stringAttr(leaseMap.Value, "ClaimRequestTimestamp"); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			item.claimRequestAt = t
		}
	}
	if v, ok := stringAttr(leaseMap.Value, "Heartbeat"); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			item.heartbeat = t
		}
	}

	return item, nil
}

func stringAttr(m map[string]ddbtypes.AttributeValue, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}

// CheckpointSequence persists the current checkpoint sequence number for
// the shard. In pull mode the write is forward-only.
func (c *DynamoCheckpoint) CheckpointSequence(shard *par.ShardStatus) error {
	ctx := context.Background()
	leaseTimeout := shard.GetLeaseTimeout().UTC().Format(time.RFC3339Nano)
	checkpoint := shard.GetCheckpoint()
	owner := shard.GetLeaseOwner()
	heartbeat := time.Now().UTC().Format(time.RFC3339Nano)

	upd := expression.Set(expression.Name(leaseAttr+".Checkpoint"), expression.Value(checkpoint)).
		Set(expression.Name(leaseAttr+".AssignedTo"), expression.Value(owner)).
		Set(expression.Name(leaseAttr+".LeaseTimeout"), expression.Value(leaseTimeout)).
		Set(expression.Name(leaseAttr+".Heartbeat"), expression.Value(heartbeat))

	if shard.ParentShardId != "" {
		upd = upd.Set(expression.Name(leaseAttr+".ParentShardId"), expression.Value(shard.ParentShardId))
	}

	builder := expression.NewBuilder().WithUpdate(upd)
	if !c.kclConfig.EnableEnhancedFanOutConsumer {
		// Pull mode: forward-only checkpoint.
		cond := expression.Or(
			expression.AttributeNotExists(expression.Name(leaseAttr+".Checkpoint")),
			expression.Name(leaseAttr+".Checkpoint").LessThan(expression.Value(checkpoint)),
		)
		builder = builder.WithCondition(cond)
	}

	expr, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building checkpoint expression: %w", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       map[string]ddbtypes.AttributeValue{shardIDAttr: &ddbtypes.AttributeValueMemberS{Value: shard.ID}},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if expr.Condition() != nil {
		input.ConditionExpression = expr.Condition()
	}

	err = withThrottleRetry(c.log, "CheckpointSequence", func() error {
		_, err := c.client.UpdateItem(ctx, input)
		return err
	})
	if err != nil {
		if isStructuralPathError(err) {
			if seedErr := c.seedLeaseMap(ctx, shard.ID); seedErr != nil {
				return fmt.Errorf("seeding lease map for checkpoint: %w", seedErr)
			}
			_, err = c.client.UpdateItem(ctx, input)
			if err == nil {
				return nil
			}
		}

		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("checkpoint sequence failed: non-monotonic checkpoint for shard %s: %w: %w", shard.ID, chk.ErrCheckpointConflict, err)
		}
		return fmt.Errorf("checkpoint sequence failed: %w", err)
	}

	return nil
}

// FetchCheckpoint retrieves the stored checkpoint, lease owner, lease
// timeout, and heartbeat for the shard, restoring them without touching
// the in-memory heartbeat the way a local checkpoint write would.
func (c *DynamoCheckpoint) FetchCheckpoint(shard *par.ShardStatus) error {
	item, err := c.getLeaseItem(context.Background(), shard.ID)
	if err != nil {
		return err
	}

	if item.checkpoint == "" {
		return chk.ErrSequenceIDNotFound
	}

	shard.RestoreFromStore(item.checkpoint, item.assignedTo, item.leaseTimeout, item.heartbeat)

	return nil
}

// RemoveLeaseInfo removes all lease data for a shard that no longer
// exists in Kinesis.
func (c *DynamoCheckpoint) RemoveLeaseInfo(shardID string) error {
	err := withThrottleRetry(c.log, "RemoveLeaseInfo", func() error {
		_, err := c.client.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
			TableName: aws.String(c.tableName),
			Key:       map[string]ddbtypes.AttributeValue{shardIDAttr: &ddbtypes.AttributeValueMemberS{Value: shardID}},
		})
		return err
	})
	if err != nil {
		c.log.Errorf("Error in removing lease info for shard: %s, Error: %+v", shardID, err)
		return err
	}

	c.log.Infof("Lease info for shard: %s has been removed.", shardID)
	return nil
}

// RemoveLeaseOwner conditionally removes the lease owner if it matches
// this worker.
func (c *DynamoCheckpoint) RemoveLeaseOwner(shardID string) error {
	cond := expression.Name(leaseAttr + ".AssignedTo").Equal(expression.Value(c.kclConfig.WorkerID))
	upd := expression.Remove(expression.Name(leaseAttr + ".AssignedTo"))

	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(upd).Build()
	if err != nil {
		return fmt.Errorf("building remove-lease-owner expression: %w", err)
	}

	err = withThrottleRetry(c.log, "RemoveLeaseOwner", func() error {
		_, err := c.client.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
			TableName:                 aws.String(c.tableName),
			Key:                       map[string]ddbtypes.AttributeValue{shardIDAttr: &ddbtypes.AttributeValueMemberS{Value: shardID}},
			ConditionExpression:       expr.Condition(),
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		return err
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return chk.ErrLeaseNotAcquired{Cause: "owner mismatch"}
		}
		return err
	}

	return nil
}

// GetLeaseOwner returns the current lease owner for a shard.
func (c *DynamoCheckpoint) GetLeaseOwner(shardID string) (string, error) {
	item, err := c.getLeaseItem(context.Background(), shardID)
	if err != nil {
		return "", err
	}
	if item.assignedTo == "" {
		return "", chk.ErrNoLeaseOwner
	}
	return item.assignedTo, nil
}

// ListActiveWorkers returns a map of worker IDs to their assigned shards.
func (c *DynamoCheckpoint) ListActiveWorkers(shardStatus map[string]*par.ShardStatus) (map[string][]*par.ShardStatus, error) {
	workers := map[string][]*par.ShardStatus{}

	for shardID, shard := range shardStatus {
		item, err := c.getLeaseItem(context.Background(), shardID)
		if err != nil {
			return nil, err
		}

		if item.checkpoint == chk.ShardEnd {
			continue
		}

		if item.assignedTo == "" {
			c.log.Debugf("Shard Not Assigned Error. ShardID: %s, WorkerID: %s", shardID, c.kclConfig.WorkerID)
			return nil, chk.ErrShardNotAssigned
		}

		shard.RestoreFromStore(item.checkpoint, item.assignedTo, item.leaseTimeout, item.heartbeat)

		workers[item.assignedTo] = append(workers[item.assignedTo], shard)
	}

	return workers, nil
}

// ClaimShard places a claim request on a shard to signal a steal attempt.
func (c *DynamoCheckpoint) ClaimShard(shard *par.ShardStatus, claimID string) error {
	if err := c.FetchCheckpoint(shard); err != nil && !errors.Is(err, chk.ErrSequenceIDNotFound) {
		return err
	}

	leaseTimeout := shard.GetLeaseTimeout().UTC().Format(time.RFC3339Nano)
	expectedOwner := shard.GetLeaseOwner()
	expectedCheckpoint := shard.GetCheckpoint()

	condParts := []expression.ConditionBuilder{
		expression.Or(
			expression.AttributeNotExists(expression.Name(leaseAttr+".ClaimRequest")),
			expression.Name(leaseAttr+".ClaimRequest").Equal(expression.Value("")),
		),
		expression.Name(leaseAttr + ".LeaseTimeout").Equal(expression.Value(leaseTimeout)),
		expression.Not(expression.Name(leaseAttr + ".Checkpoint").Equal(expression.Value(chk.ShardEnd))),
	}
	if expectedOwner == "" {
		condParts = append(condParts, expression.Or(
			expression.AttributeNotExists(expression.Name(leaseAttr+".AssignedTo")),
			expression.Name(leaseAttr+".AssignedTo").Equal(expression.Value("")),
		))
	} else {
		condParts = append(condParts, expression.Name(leaseAttr+".AssignedTo").Equal(expression.Value(expectedOwner)))
	}
	if expectedCheckpoint != "" {
		condParts = append(condParts, expression.Name(leaseAttr+".Checkpoint").Equal(expression.Value(expectedCheckpoint)))
	}

	cond := condParts[0]
	for _, p := range condParts[1:] {
		cond = cond.And(p)
	}

	upd := expression.Set(expression.Name(leaseAttr+".ClaimRequest"), expression.Value(claimID)).
		Set(expression.Name(leaseAttr+".ClaimRequestTimestamp"), expression.Value(time.Now().UTC().Format(time.RFC3339Nano)))

	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(upd).Build()
	if err != nil {
		return fmt.Errorf("building claim-shard expression: %w", err)
	}

	err = withThrottleRetry(c.log, "ClaimShard", func() error {
		_, err := c.client.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
			TableName:                 aws.String(c.tableName),
			Key:                       map[string]ddbtypes.AttributeValue{shardIDAttr: &ddbtypes.AttributeValueMemberS{Value: shard.ID}},
			ConditionExpression:       expr.Condition(),
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		return err
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return chk.ErrLeaseNotAcquired{Cause: "claim precondition mismatch"}
		}
		return err
	}

	return nil
}
