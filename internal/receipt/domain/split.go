package domain

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SplitDetailsJSON encodes item assignments for storage. Positions become
// string keys and user IDs become strings, since snowflake IDs overflow the
// float64 range JSON numbers survive in.
func SplitDetailsJSON(assignments map[string][]snowflake.ID) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(assignments))
	for position, users := range assignments {
		ids := make([]interface{}, 0, len(users))
		for _, id := range users {
			ids = append(ids, id.String())
		}
		out[position] = ids
	}
	return out
}

// AssignmentsByPosition decodes the stored split details back into item
// position to user set. It tolerates both freshly assigned Go slices and the
// generic shapes a JSON column round-trip produces.
func (r *Receipt) AssignmentsByPosition() (map[int][]snowflake.ID, error) {
	assignments := make(map[int][]snowflake.ID, len(r.SplitDetails))
	for key, raw := range r.SplitDetails {
		position, err := strconv.Atoi(key)
		if err != nil || position < 0 {
			return nil, fmt.Errorf("invalid item position %q in split details", key)
		}

		users, err := decodeUserIDs(raw)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", position, err)
		}
		sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
		assignments[position] = users
	}
	return assignments, nil
}

func decodeUserIDs(raw interface{}) ([]snowflake.ID, error) {
	switch typed := raw.(type) {
	case []interface{}:
		ids := make([]snowflake.ID, 0, len(typed))
		for _, element := range typed {
			id, err := decodeUserID(element)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	case []string:
		ids := make([]snowflake.ID, 0, len(typed))
		for _, element := range typed {
			id, err := snowflake.ParseString(element)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	case []snowflake.ID:
		return typed, nil
	default:
		return nil, fmt.Errorf("unexpected assignment shape %T", raw)
	}
}

func decodeUserID(element interface{}) (snowflake.ID, error) {
	switch typed := element.(type) {
	case string:
		return snowflake.ParseString(typed)
	case float64:
		return snowflake.ID(int64(typed)), nil
	case int64:
		return snowflake.ID(typed), nil
	case snowflake.ID:
		return typed, nil
	default:
		return 0, fmt.Errorf("unexpected user id shape %T", element)
	}
}
