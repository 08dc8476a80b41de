package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestMockLocker_AcquireAndRelease(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()

	l, err := m.Acquire(ctx, "acct1", "device1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if l.AccountID != "acct1" || l.HolderID != "device1" {
		t.Errorf("Lease mismatch: got %+v", l)
	}

	if err := m.Release(ctx, "acct1", "device1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	status, _ := m.Status(ctx, "acct1")
	if status != nil {
		t.Error("Expected nil lease status after release")
	}
}

func TestMockLocker_DoubleAcquire_SameHolder(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "acct1", "device1"); err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}
	if _, err := m.Acquire(ctx, "acct1", "device1"); err != nil {
		t.Errorf("Same holder should be able to re-acquire: %v", err)
	}
}

func TestMockLocker_DoubleAcquire_DifferentHolder(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "acct1", "device1"); err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}
	_, err := m.Acquire(ctx, "acct1", "device2")
	if !errors.Is(err, ErrLeaseHeld) {
		t.Errorf("Expected ErrLeaseHeld, got %v", err)
	}
}

func TestMockLocker_Renew(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()

	l, _ := m.Acquire(ctx, "acct1", "device1")
	originalExpiry := l.ExpiresAt

	// Wait a bit so time.Now() gives a different second
	time.Sleep(1100 * time.Millisecond)

	updated, err := m.Renew(ctx, "acct1", "device1")
	if err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	if updated.ExpiresAt <= originalExpiry {
		t.Errorf("Expected renew to extend expiry: original=%d, updated=%d", originalExpiry, updated.ExpiresAt)
	}
}

func TestMockLocker_ExpiredLease(t *testing.T) {
	m := NewMockLocker()
	m.ttlDuration = -1 * time.Second // already expired
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "acct1", "device1"); err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}
	if _, err := m.Acquire(ctx, "acct1", "device2"); err != nil {
		t.Errorf("Should acquire expired lease: %v", err)
	}
}

func TestMockLocker_Release_WrongHolder(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()

	m.Acquire(ctx, "acct1", "device1")

	if err := m.Release(ctx, "acct1", "device2"); !errors.Is(err, ErrLeaseNotOwned) {
		t.Errorf("Expected ErrLeaseNotOwned, got %v", err)
	}
}

func TestWithLease(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()

	err := WithLease(ctx, m, "acct1", "device1", func(ctx context.Context) error {
		if _, err := m.Acquire(ctx, "acct1", "device2"); !errors.Is(err, ErrLeaseHeld) {
			t.Errorf("Expected lease to be held inside fn, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLease failed: %v", err)
	}

	status, _ := m.Status(ctx, "acct1")
	if status != nil {
		t.Error("Expected lease to be released after fn")
	}
}

func TestWithLease_ReleasesOnError(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithLease(ctx, m, "acct1", "device1", func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Expected fn error, got %v", err)
	}
	if status, _ := m.Status(ctx, "acct1"); status != nil {
		t.Error("Expected lease to be released after failing fn")
	}
}

func TestWithLease_NilLocker(t *testing.T) {
	called := false
	err := WithLease(context.Background(), nil, "acct1", "device1", func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("Expected fn to run without a locker: called=%v err=%v", called, err)
	}
}

// fakeDynamo records inputs and fails conditional writes on demand.
type fakeDynamo struct {
	put        *dynamodb.PutItemInput
	update     *dynamodb.UpdateItemInput
	getItem    map[string]types.AttributeValue
	conditions bool
}

func (f *fakeDynamo) condErr() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.put = in
	if f.conditions {
		return nil, f.condErr()
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.update = in
	if f.conditions {
		return nil, f.condErr()
	}
	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
		"account_id": in.Key["account_id"],
		"holder_id":  in.ExpressionAttributeValues[":holder_id"],
		"expires_at": in.ExpressionAttributeValues[":expires_at"],
	}}, nil
}

func (f *fakeDynamo) DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.conditions {
		return nil, f.condErr()
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func fixedClock(m *LockManager, at time.Time) {
	m.now = func() time.Time { return at }
}

func TestLockManager_Acquire(t *testing.T) {
	fake := &fakeDynamo{}
	m := NewLockManager(fake, "AccountLeases")
	fixedClock(m, time.Unix(1000, 0))

	l, err := m.Acquire(context.Background(), "acct1", "device1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if l.ExpiresAt != 1000+int64(DefaultTTL.Seconds()) {
		t.Errorf("Unexpected expiry: %d", l.ExpiresAt)
	}
	if aws.ToString(fake.put.TableName) != "AccountLeases" {
		t.Errorf("Unexpected table: %s", aws.ToString(fake.put.TableName))
	}
	now := fake.put.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value
	if now != "1000" {
		t.Errorf("Expected :now=1000, got %s", now)
	}
}

func TestLockManager_ConditionFailures(t *testing.T) {
	m := NewLockManager(&fakeDynamo{conditions: true}, "AccountLeases")
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "acct1", "device2"); !errors.Is(err, ErrLeaseHeld) {
		t.Errorf("Expected ErrLeaseHeld, got %v", err)
	}
	if _, err := m.Renew(ctx, "acct1", "device2"); !errors.Is(err, ErrLeaseNotOwned) {
		t.Errorf("Expected ErrLeaseNotOwned on renew, got %v", err)
	}
	if err := m.Release(ctx, "acct1", "device2"); !errors.Is(err, ErrLeaseNotOwned) {
		t.Errorf("Expected ErrLeaseNotOwned on release, got %v", err)
	}
}

func TestLockManager_Renew(t *testing.T) {
	fake := &fakeDynamo{}
	m := NewLockManager(fake, "AccountLeases")
	fixedClock(m, time.Unix(5000, 0))

	l, err := m.Renew(context.Background(), "acct1", "device1")
	if err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	if l.HolderID != "device1" || l.ExpiresAt != 5000+int64(DefaultTTL.Seconds()) {
		t.Errorf("Unexpected lease: %+v", l)
	}
}

func TestLockManager_StatusExpired(t *testing.T) {
	fake := &fakeDynamo{getItem: map[string]types.AttributeValue{
		"account_id": &types.AttributeValueMemberS{Value: "acct1"},
		"holder_id":  &types.AttributeValueMemberS{Value: "device1"},
		"expires_at": &types.AttributeValueMemberN{Value: "100"},
	}}
	m := NewLockManager(fake, "AccountLeases")
	ctx := context.Background()

	fixedClock(m, time.Unix(50, 0))
	status, err := m.Status(ctx, "acct1")
	if err != nil || status == nil || status.HolderID != "device1" {
		t.Fatalf("Expected active lease, got %+v, %v", status, err)
	}

	fixedClock(m, time.Unix(200, 0))
	status, err = m.Status(ctx, "acct1")
	if err != nil || status != nil {
		t.Fatalf("Expected expired lease to read as nil, got %+v, %v", status, err)
	}
}
