package shepherd

import (
	"errors"
	"reflect"
	"testing"
)

func TestShardRange(t *testing.T) {
	rangeString := "0-4,6-7"
	max := int32(8)
	expected := []int32{0, 1, 2, 3, 4, 6, 7}

	result := shardRange(rangeString, max)

	if !reflect.DeepEqual(result, expected) {
		t.Errorf("Expected %v, but got %v", expected, result)
	}
}

func TestShardRangeSingle(t *testing.T) {
	rangeString := "0"
	max := int32(8)
	expected := []int32{0}

	result := shardRange(rangeString, max)

	if !reflect.DeepEqual(result, expected) {
		t.Errorf("Expected %v, but got %v", expected, result)
	}
}

func TestShardRangeEmpty(t *testing.T) {
	rangeString := ""
	max := int32(8)

	result := shardRange(rangeString, max)

	if len(result) != 0 {
		t.Errorf("Expected no shard ids, but got %v", result)
	}
}

func TestShardRangeOutOfBounds(t *testing.T) {
	rangeString := "0-4,6-7,8"
	max := int32(8)
	expected := []int32{0, 1, 2, 3, 4, 6, 7}

	result := shardRange(rangeString, max)

	if !reflect.DeepEqual(result, expected) {
		t.Errorf("Expected %v, but got %v", expected, result)
	}
}

func TestReplaceIfEmpty(t *testing.T) {
	v := replaceIfEmpty("", "default")
	expected := "default"

	if v != expected {
		t.Errorf("Expected %q, but got %q", expected, v)
	}

	v = replaceIfEmpty("value", "default")
	expected = "value"

	if v != expected {
		t.Errorf("Expected %q, but got %q", expected, v)
	}
}

func TestReturnError(t *testing.T) {
	v := returnError(nil)
	if v != "" {
		t.Errorf("Expected empty string, but got %q", v)
	}

	v = returnError(errors.New("an error"))
	if v != "an error" {
		t.Errorf("Expected %q, but got %q", "an error", v)
	}
}
