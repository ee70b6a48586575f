// Package dbtest holds a scriptable DynamoDB stand-in for store tests.
package dbtest

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// FakeDynamo records every request and answers with the matching hook, or an
// empty output when the hook is nil.
type FakeDynamo struct {
	mu sync.Mutex

	GetItemFn    func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	PutItemFn    func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	UpdateItemFn func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	DeleteItemFn func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	QueryFn      func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	ScanFn       func(*dynamodb.ScanInput) (*dynamodb.ScanOutput, error)

	Gets    []*dynamodb.GetItemInput
	Puts    []*dynamodb.PutItemInput
	Updates []*dynamodb.UpdateItemInput
	Deletes []*dynamodb.DeleteItemInput
	Queries []*dynamodb.QueryInput
	Scans   []*dynamodb.ScanInput
}

func (f *FakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	f.Gets = append(f.Gets, in)
	fn := f.GetItemFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return fn(in)
}

func (f *FakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	f.Puts = append(f.Puts, in)
	fn := f.PutItemFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.PutItemOutput{}, nil
	}
	return fn(in)
}

func (f *FakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	f.Updates = append(f.Updates, in)
	fn := f.UpdateItemFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.UpdateItemOutput{}, nil
	}
	return fn(in)
}

func (f *FakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	f.Deletes = append(f.Deletes, in)
	fn := f.DeleteItemFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.DeleteItemOutput{}, nil
	}
	return fn(in)
}

func (f *FakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	f.Queries = append(f.Queries, in)
	fn := f.QueryFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return fn(in)
}

func (f *FakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	f.Scans = append(f.Scans, in)
	fn := f.ScanFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.ScanOutput{}, nil
	}
	return fn(in)
}
