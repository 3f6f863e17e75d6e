package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/todo-keeper/internal/api"
	"github.com/and161185/todo-keeper/internal/convert"
	"github.com/and161185/todo-keeper/internal/crypto"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/paths"
	"github.com/and161185/todo-keeper/internal/realtime"
	"github.com/and161185/todo-keeper/internal/repository/memory"
	"github.com/and161185/todo-keeper/internal/service"
)

const bufSize = 1 << 20

func startBufGRPC(t *testing.T) *api.BackendClient {
	t.Helper()
	hub := realtime.NewHub()
	auth := service.NewAuthService(memory.NewUserRepo(), memory.NewSessionRepo(), []byte("test-secret"), time.Minute, nil).
		WithHashParams(crypto.Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	records := service.NewRecordService(memory.NewTaskRepo(), hub, hub)

	lis := bufconn.Listen(bufSize)
	gs := NewGRPCServer(zaptest.NewLogger(t), auth, records)
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return api.NewBackendClient(cc)
}

func withToken(ctx context.Context, tok string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
}

func signUp(t *testing.T, cl *api.BackendClient, email string) (model.Tokens, model.Principal) {
	t.Helper()
	resp, err := cl.SignUp(context.Background(), convert.Credentials(email, "secret1"))
	require.NoError(t, err)
	tok, p, err := convert.FromProtoAuth(resp)
	require.NoError(t, err)
	return tok, p
}

func TestServer_E2E_AuthFlow(t *testing.T) {
	t.Parallel()
	cl := startBufGRPC(t)
	ctx := context.Background()

	tok, p := signUp(t, cl, "Ann@x.io")
	require.Equal(t, "ann@x.io", p.Email)
	authed := withToken(ctx, tok.AccessToken)

	_, err := cl.SignUp(ctx, convert.Credentials("ann@x.io", "secret1"))
	require.Equal(t, codes.AlreadyExists, status.Code(err))
	_, err = cl.SignUp(ctx, convert.Credentials("bob@x.io", "123"))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	me, err := cl.UpdateProfile(authed, convert.Profile("Ann"))
	require.NoError(t, err)
	got, err := convert.FromProtoPrincipal(me)
	require.NoError(t, err)
	require.Equal(t, "Ann", got.DisplayName)

	me, err = cl.Me(authed)
	require.NoError(t, err)
	got, err = convert.FromProtoPrincipal(me)
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)

	_, err = cl.SignIn(ctx, convert.Credentials("ann@x.io", "wrong!"))
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	resp, err := cl.SignIn(ctx, convert.Credentials("ann@x.io", "secret1"))
	require.NoError(t, err)
	second, _, err := convert.FromProtoAuth(resp)
	require.NoError(t, err)
	require.NotEqual(t, tok.SessionID, second.SessionID)

	require.NoError(t, cl.SignOut(authed))
	_, err = cl.Me(authed)
	require.Equal(t, codes.Unauthenticated, status.Code(err), "revoked session")

	_, err = cl.Me(withToken(ctx, second.AccessToken))
	require.NoError(t, err, "other sessions stay valid")

	_, err = cl.Me(ctx)
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestServer_E2E_RecordsAndWatch(t *testing.T) {
	t.Parallel()
	cl := startBufGRPC(t)
	tok, p := signUp(t, cl, "a@x.io")
	ctx, cancel := context.WithTimeout(withToken(context.Background(), tok.AccessToken), 10*time.Second)
	defer cancel()

	stream, err := cl.Watch(ctx, convert.PathRequest(paths.TaskCollection(p.ID)))
	require.NoError(t, err)
	first, err := stream.Recv()
	require.NoError(t, err)
	snap, err := convert.FromProtoSnapshot(first)
	require.NoError(t, err)
	require.Empty(t, snap)

	rec := paths.TaskRecord(p.ID, "t1")
	require.NoError(t, cl.Set(ctx, convert.SetRequest(rec, model.Task{Title: "a", Deadline: "2025-01-02", Priority: 2})))

	next := func() model.Snapshot {
		msg, err := stream.Recv()
		require.NoError(t, err)
		s, err := convert.FromProtoSnapshot(msg)
		require.NoError(t, err)
		return s
	}
	snap = next()
	require.Equal(t, "a", snap["t1"].Title)
	require.Equal(t, "t1", snap["t1"].ID)

	bad, err := convert.UpdateRequest(rec, map[string]any{"priority": 2.5})
	require.NoError(t, err)
	require.Equal(t, codes.InvalidArgument, status.Code(cl.Update(ctx, bad)))

	upd, err := convert.UpdateRequest(rec, map[string]any{"completed": true})
	require.NoError(t, err)
	require.NoError(t, cl.Update(ctx, upd))
	snap = next()
	require.True(t, snap["t1"].Completed)
	require.Equal(t, 2, snap["t1"].Priority)

	require.NoError(t, cl.Remove(ctx, convert.PathRequest(rec)))
	snap = next()
	require.Empty(t, snap)
}

func TestServer_E2E_ForeignPathDenied(t *testing.T) {
	t.Parallel()
	cl := startBufGRPC(t)
	tokA, _ := signUp(t, cl, "a@x.io")
	_, pB := signUp(t, cl, "b@x.io")
	ctx := withToken(context.Background(), tokA.AccessToken)

	err := cl.Set(ctx, convert.SetRequest(paths.TaskRecord(pB.ID, "x"), model.Task{Title: "x"}))
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	stream, err := cl.Watch(ctx, convert.PathRequest(paths.TaskCollection(pB.ID)))
	require.NoError(t, err)
	_, err = stream.Recv()
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	err = cl.Remove(ctx, convert.PathRequest("not/a/path"))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
