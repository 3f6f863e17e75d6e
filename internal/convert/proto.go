// Package convert maps domain values to and from protobuf well-known types
// carried by the Backend gRPC service.
package convert

import (
	"fmt"
	"math"
	"strconv"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	model "github.com/and161185/todo-keeper/internal/model"
)

// Field names shared by client and server.
const (
	FieldEmail       = "email"
	FieldPassword    = "password"
	FieldDisplayName = "display_name"
	FieldPath        = "path"
	FieldTask        = "task"
	FieldPatch       = "patch"
	FieldTasks       = "tasks"
	FieldUser        = "user"
	FieldAccessToken = "access_token"
	FieldSessionID   = "session_id"
	FieldExpiresAt   = "expires_at"
)

// --- helpers ---

func strVal(s string) *structpb.Value { return structpb.NewStringValue(s) }

func str(s *structpb.Struct, key string) (string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", nil
	}
	if _, ok := v.GetKind().(*structpb.Value_StringValue); !ok {
		return "", fmt.Errorf("%s: want string", key)
	}
	return v.GetStringValue(), nil
}

func obj(s *structpb.Struct, key string) (*structpb.Struct, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, fmt.Errorf("%s: missing", key)
	}
	if _, ok := v.GetKind().(*structpb.Value_StructValue); !ok {
		return nil, fmt.Errorf("%s: want object", key)
	}
	return v.GetStructValue(), nil
}

// ts encodes a time in the canonical JSON form of google.protobuf.Timestamp.
func ts(t time.Time) string {
	b, err := protojson.Marshal(timestamppb.New(t))
	if err != nil {
		return ""
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return ""
	}
	return s
}

func parseTS(s string) (time.Time, error) {
	var out timestamppb.Timestamp
	if err := protojson.Unmarshal([]byte(strconv.Quote(s)), &out); err != nil {
		return time.Time{}, err
	}
	if err := out.CheckValid(); err != nil {
		return time.Time{}, err
	}
	return out.AsTime(), nil
}

// --- Task ---

// ToProtoTask converts a task to its record shape.
func ToProtoTask(t model.Task) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":          strVal(t.ID),
		"title":       strVal(t.Title),
		"description": strVal(t.Description),
		"deadline":    strVal(t.Deadline),
		"priority":    structpb.NewNumberValue(float64(t.Priority)),
		"completed":   structpb.NewBoolValue(t.Completed),
	}}
}

// FromProtoTask converts a record into a task. Missing fields take zero values.
func FromProtoTask(s *structpb.Struct) (model.Task, error) {
	if s == nil {
		return model.Task{}, fmt.Errorf("nil task")
	}
	var (
		t   model.Task
		err error
	)
	for key, dst := range map[string]*string{
		"id":          &t.ID,
		"title":       &t.Title,
		"description": &t.Description,
		"deadline":    &t.Deadline,
	} {
		if *dst, err = str(s, key); err != nil {
			return model.Task{}, err
		}
	}
	if v, ok := s.GetFields()["priority"]; ok {
		n, isNum := v.GetKind().(*structpb.Value_NumberValue)
		if !isNum || n.NumberValue != math.Trunc(n.NumberValue) {
			return model.Task{}, fmt.Errorf("priority: want integer")
		}
		t.Priority = int(n.NumberValue)
	}
	if v, ok := s.GetFields()["completed"]; ok {
		b, isBool := v.GetKind().(*structpb.Value_BoolValue)
		if !isBool {
			return model.Task{}, fmt.Errorf("completed: want bool")
		}
		t.Completed = b.BoolValue
	}
	return t, nil
}

// --- Snapshot ---

// ToProtoSnapshot wraps a snapshot as {"tasks": {id: task}}.
func ToProtoSnapshot(snap model.Snapshot) *structpb.Struct {
	tasks := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(snap))}
	for id, t := range snap {
		tasks.Fields[id] = structpb.NewStructValue(ToProtoTask(t))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldTasks: structpb.NewStructValue(tasks),
	}}
}

// FromProtoSnapshot is the inverse of ToProtoSnapshot. Keys win over embedded ids.
func FromProtoSnapshot(s *structpb.Struct) (model.Snapshot, error) {
	tasks, err := obj(s, FieldTasks)
	if err != nil {
		return nil, err
	}
	out := make(model.Snapshot, len(tasks.GetFields()))
	for id, v := range tasks.GetFields() {
		sv, ok := v.GetKind().(*structpb.Value_StructValue)
		if !ok {
			return nil, fmt.Errorf("task %s: want object", id)
		}
		t, err := FromProtoTask(sv.StructValue)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", id, err)
		}
		t.ID = id
		out[id] = t
	}
	return out, nil
}

// --- Principal / auth ---

// ToProtoPrincipal converts the public identity.
func ToProtoPrincipal(p model.Principal) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"uid":            strVal(p.ID),
		FieldEmail:       strVal(p.Email),
		FieldDisplayName: strVal(p.DisplayName),
	}}
}

// FromProtoPrincipal converts the public identity; uid is required.
func FromProtoPrincipal(s *structpb.Struct) (model.Principal, error) {
	var (
		p   model.Principal
		err error
	)
	if p.ID, err = str(s, "uid"); err != nil {
		return model.Principal{}, err
	}
	if p.ID == "" {
		return model.Principal{}, fmt.Errorf("uid: missing")
	}
	if p.Email, err = str(s, FieldEmail); err != nil {
		return model.Principal{}, err
	}
	if p.DisplayName, err = str(s, FieldDisplayName); err != nil {
		return model.Principal{}, err
	}
	return p, nil
}

// ToProtoAuth builds the SignIn/SignUp response.
func ToProtoAuth(tok model.Tokens, p model.Principal) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldAccessToken: strVal(tok.AccessToken),
		FieldSessionID:   strVal(tok.SessionID.String()),
		FieldExpiresAt:   strVal(ts(tok.ExpiresAt)),
		FieldUser:        structpb.NewStructValue(ToProtoPrincipal(p)),
	}}
}

// FromProtoAuth parses the SignIn/SignUp response.
func FromProtoAuth(s *structpb.Struct) (model.Tokens, model.Principal, error) {
	var tok model.Tokens
	access, err := str(s, FieldAccessToken)
	if err != nil || access == "" {
		return model.Tokens{}, model.Principal{}, fmt.Errorf("%s: missing", FieldAccessToken)
	}
	tok.AccessToken = access

	sid, err := str(s, FieldSessionID)
	if err != nil {
		return model.Tokens{}, model.Principal{}, err
	}
	if tok.SessionID, err = u.FromString(sid); err != nil {
		return model.Tokens{}, model.Principal{}, fmt.Errorf("invalid session id: %w", err)
	}

	exp, err := str(s, FieldExpiresAt)
	if err != nil {
		return model.Tokens{}, model.Principal{}, err
	}
	if tok.ExpiresAt, err = parseTS(exp); err != nil {
		return model.Tokens{}, model.Principal{}, fmt.Errorf("%s: %w", FieldExpiresAt, err)
	}

	us, err := obj(s, FieldUser)
	if err != nil {
		return model.Tokens{}, model.Principal{}, err
	}
	p, err := FromProtoPrincipal(us)
	if err != nil {
		return model.Tokens{}, model.Principal{}, err
	}
	return tok, p, nil
}

// --- requests ---

// Credentials is the SignIn/SignUp request.
func Credentials(email, password string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldEmail:    strVal(email),
		FieldPassword: strVal(password),
	}}
}

// FromCredentials parses the SignIn/SignUp request.
func FromCredentials(s *structpb.Struct) (email, password string, err error) {
	if email, err = str(s, FieldEmail); err != nil {
		return "", "", err
	}
	if password, err = str(s, FieldPassword); err != nil {
		return "", "", err
	}
	return email, password, nil
}

// Profile is the UpdateProfile request.
func Profile(displayName string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{FieldDisplayName: strVal(displayName)}}
}

// FromProfile parses the UpdateProfile request.
func FromProfile(s *structpb.Struct) (string, error) { return str(s, FieldDisplayName) }

// PathRequest addresses a record or a collection (Remove, Watch).
func PathRequest(path string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{FieldPath: strVal(path)}}
}

// FromPathRequest returns the path of any path-carrying request.
func FromPathRequest(s *structpb.Struct) (string, error) {
	p, err := str(s, FieldPath)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", fmt.Errorf("%s: missing", FieldPath)
	}
	return p, nil
}

// SetRequest carries a full record.
func SetRequest(path string, t model.Task) *structpb.Struct {
	s := PathRequest(path)
	s.Fields[FieldTask] = structpb.NewStructValue(ToProtoTask(t))
	return s
}

// FromSetRequest parses a Set request.
func FromSetRequest(s *structpb.Struct) (string, model.Task, error) {
	path, err := FromPathRequest(s)
	if err != nil {
		return "", model.Task{}, err
	}
	body, err := obj(s, FieldTask)
	if err != nil {
		return "", model.Task{}, err
	}
	t, err := FromProtoTask(body)
	return path, t, err
}

// UpdateRequest carries a partial update. Values must be JSON-like.
func UpdateRequest(path string, patch map[string]any) (*structpb.Struct, error) {
	ps, err := structpb.NewStruct(patch)
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}
	s := PathRequest(path)
	s.Fields[FieldPatch] = structpb.NewStructValue(ps)
	return s, nil
}

// FromUpdateRequest parses an Update request.
func FromUpdateRequest(s *structpb.Struct) (string, map[string]any, error) {
	path, err := FromPathRequest(s)
	if err != nil {
		return "", nil, err
	}
	ps, err := obj(s, FieldPatch)
	if err != nil {
		return "", nil, err
	}
	return path, ps.AsMap(), nil
}
