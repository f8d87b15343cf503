// Package awstest provides in-memory fakes of the AWS client interfaces for tests.
//
// FakeDynamo understands the small expression dialect the stores in this
// repository emit: SET assignments (plain values and if_not_exists(x, :z) + :n
// counters) and condition expressions made of "=", "<>", attribute_exists and
// attribute_not_exists joined with AND.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// FakeDynamo is a goroutine-safe in-memory DynamoDB with single-attribute keys.
type FakeDynamo struct {
	mu     sync.Mutex
	keys   map[string]string
	tables map[string]map[string]item

	// Err, when set, is returned by every call.
	Err error

	PutCalls      int
	GetCalls      int
	UpdateCalls   int
	TransactCalls int
}

func NewFakeDynamo() *FakeDynamo {
	return &FakeDynamo{
		keys:   map[string]string{},
		tables: map[string]map[string]item{},
	}
}

// CreateTable registers a table and its partition key attribute name.
func (f *FakeDynamo) CreateTable(name, pk string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[name] = pk
	if _, ok := f.tables[name]; !ok {
		f.tables[name] = map[string]item{}
	}
}

// Seed writes an item directly, bypassing conditions.
func (f *FakeDynamo) Seed(table string, it map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.pkValue(table, it)
	if err != nil {
		panic(err)
	}
	f.tables[table][pk] = copyItem(it)
}

// Item returns a copy of the stored item or nil.
func (f *FakeDynamo) Item(table, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.tables[table][key]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Len reports the number of items in a table.
func (f *FakeDynamo) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *FakeDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	table := deref(in.TableName)
	pk, err := f.pkValue(table, in.Item)
	if err != nil {
		return nil, err
	}
	current := f.tables[table][pk]
	ok, err := evalCondition(deref(in.ConditionExpression), current, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: awsString("The conditional request failed")}
	}
	f.tables[table][pk] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *FakeDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	table := deref(in.TableName)
	pk, err := f.pkValue(table, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := f.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (f *FakeDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	table := deref(in.TableName)
	updated, err := f.applyUpdate(table, in.Key, deref(in.UpdateExpression), deref(in.ConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues != "" && in.ReturnValues != types.ReturnValueNone {
		out.Attributes = copyItem(updated)
	}
	return out, nil
}

func (f *FakeDynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TransactCalls++
	if f.Err != nil {
		return nil, f.Err
	}

	// all conditions are checked before anything is written
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: awsString("None")}
		var (
			table, cond string
			key         item
			names       map[string]string
			values      map[string]types.AttributeValue
		)
		switch {
		case ti.Put != nil:
			table, cond, names, values = deref(ti.Put.TableName), deref(ti.Put.ConditionExpression), ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
			key = ti.Put.Item
		case ti.Update != nil:
			table, cond, names, values = deref(ti.Update.TableName), deref(ti.Update.ConditionExpression), ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues
			key = ti.Update.Key
		case ti.ConditionCheck != nil:
			table, cond, names, values = deref(ti.ConditionCheck.TableName), deref(ti.ConditionCheck.ConditionExpression), ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
			key = ti.ConditionCheck.Key
		default:
			return nil, errors.New("awstest: unsupported transact item")
		}
		pk, err := f.pkValue(table, key)
		if err != nil {
			return nil, err
		}
		ok, err := evalCondition(cond, f.tables[table][pk], names, values)
		if err != nil {
			return nil, err
		}
		if !ok {
			failed = true
			reasons[i] = types.CancellationReason{Code: awsString("ConditionalCheckFailed")}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             awsString("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			table := deref(ti.Put.TableName)
			pk, _ := f.pkValue(table, ti.Put.Item)
			f.tables[table][pk] = copyItem(ti.Put.Item)
		case ti.Update != nil:
			if _, err := f.applyUpdate(deref(ti.Update.TableName), ti.Update.Key, deref(ti.Update.UpdateExpression), "", ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues); err != nil {
				return nil, err
			}
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *FakeDynamo) applyUpdate(table string, key item, expr, cond string, names map[string]string, values map[string]types.AttributeValue) (item, error) {
	pk, err := f.pkValue(table, key)
	if err != nil {
		return nil, err
	}
	current, exists := f.tables[table][pk]
	ok, err := evalCondition(cond, current, names, values)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: awsString("The conditional request failed")}
	}

	next := copyItem(current)
	if !exists {
		next = copyItem(key)
	}

	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(strings.ToUpper(expr), "SET ") {
		return nil, fmt.Errorf("awstest: unsupported update expression %q", expr)
	}
	for _, assignment := range splitTopLevel(expr[4:]) {
		lhs, rhs, found := strings.Cut(assignment, "=")
		if !found {
			return nil, fmt.Errorf("awstest: bad assignment %q", assignment)
		}
		attr := resolveName(strings.TrimSpace(lhs), names)
		v, err := evalValue(strings.TrimSpace(rhs), next, names, values)
		if err != nil {
			return nil, err
		}
		next[attr] = v
	}
	f.tables[table][pk] = next
	return next, nil
}

func (f *FakeDynamo) pkValue(table string, it item) (string, error) {
	pkName, ok := f.keys[table]
	if !ok {
		return "", fmt.Errorf("awstest: table %q not created", table)
	}
	v, ok := it[pkName].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("awstest: item for %q has no string key %q", table, pkName)
	}
	return v.Value, nil
}

// evalValue handles ":v" and "if_not_exists(attr, :z) + :n".
func evalValue(rhs string, current item, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	if strings.HasPrefix(rhs, ":") {
		v, ok := values[rhs]
		if !ok {
			return nil, fmt.Errorf("awstest: missing value %s", rhs)
		}
		return v, nil
	}
	if strings.HasPrefix(rhs, "if_not_exists(") {
		closing := strings.Index(rhs, ")")
		args := strings.Split(rhs[len("if_not_exists("):closing], ",")
		attr := resolveName(strings.TrimSpace(args[0]), names)
		base, ok := current[attr]
		if !ok {
			base = values[strings.TrimSpace(args[1])]
		}
		rest := strings.TrimSpace(rhs[closing+1:])
		if rest == "" {
			return base, nil
		}
		inc := strings.TrimSpace(strings.TrimPrefix(rest, "+"))
		a, err := numberOf(base)
		if err != nil {
			return nil, err
		}
		b, err := numberOf(values[inc])
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(a+b, 10)}, nil
	}
	return nil, fmt.Errorf("awstest: unsupported value expression %q", rhs)
}

func evalCondition(cond string, current item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}
	for _, clause := range strings.Split(cond, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists("):
			attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")"), names)
			if _, ok := current[attr]; ok {
				return false, nil
			}
		case strings.HasPrefix(clause, "attribute_exists("):
			attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_exists("), ")"), names)
			if _, ok := current[attr]; !ok {
				return false, nil
			}
		case strings.Contains(clause, "<>"):
			lhs, rhs, _ := strings.Cut(clause, "<>")
			a := operand(strings.TrimSpace(lhs), current, names, values)
			b := operand(strings.TrimSpace(rhs), current, names, values)
			if a != nil && b != nil && attrEqual(a, b) {
				return false, nil
			}
		case strings.Contains(clause, "="):
			lhs, rhs, _ := strings.Cut(clause, "=")
			a := operand(strings.TrimSpace(lhs), current, names, values)
			b := operand(strings.TrimSpace(rhs), current, names, values)
			if a == nil || b == nil || !attrEqual(a, b) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("awstest: unsupported condition %q", clause)
		}
	}
	return true, nil
}

func operand(tok string, current item, names map[string]string, values map[string]types.AttributeValue) types.AttributeValue {
	if strings.HasPrefix(tok, ":") {
		return values[tok]
	}
	if current == nil {
		return nil
	}
	return current[resolveName(tok, names)]
}

func resolveName(tok string, names map[string]string) string {
	if strings.HasPrefix(tok, "#") {
		if n, ok := names[tok]; ok {
			return n
		}
	}
	return tok
}

func attrEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	}
	return reflect.DeepEqual(a, b)
}

func numberOf(v types.AttributeValue) (int64, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("awstest: %T is not a number", v)
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

// splitTopLevel splits on commas that are not inside parentheses.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func awsString(s string) *string { return &s }
