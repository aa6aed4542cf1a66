package mongoclient

import (
	"context"
	"errors"
	"testing"

	"github.com/datapipelabs/changegate/retry"
	"github.com/datapipelabs/changegate/storeclient"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func serverErr(code int32, name string) error {
	return mongo.CommandError{Code: code, Name: name, Message: name}
}

func TestMapStoreErrorSentinels(t *testing.T) {
	err := mapStoreError(serverErr(codeAlreadyInitialized, "AlreadyInitialized"))
	require.ErrorIs(t, err, storeclient.ErrAlreadyInitialized)

	err = mapStoreError(serverErr(codeChangeStreamHistoryLost, "ChangeStreamHistoryLost"))
	require.ErrorIs(t, err, storeclient.ErrHistoryLost)
}

func TestMapStoreErrorTransient(t *testing.T) {
	transientCodes := []int32{
		codeNotYetInitialized,
		codeNotWritablePrimary,
		codeNotPrimaryNoSecondaryOk,
		codePrimarySteppedDown,
		codeShutdownInProgress,
		codeInterruptedAtShutdown,
		codeInterruptedDueToReplStateChange,
	}
	for _, code := range transientCodes {
		err := mapStoreError(serverErr(code, "transient"))
		require.True(t, retry.IsTransient(err), "code %d should be transient", code)
	}

	labelled := mongo.CommandError{
		Code:    6,
		Name:    "HostUnreachable",
		Labels:  []string{"ResumableChangeStreamError"},
		Message: "host unreachable",
	}
	require.True(t, retry.IsTransient(mapStoreError(labelled)))
}

func TestMapStoreErrorPermanent(t *testing.T) {
	require.True(t, retry.IsPermanent(mapStoreError(serverErr(codeAuthenticationFailed, "AuthenticationFailed"))))
	require.True(t, retry.IsPermanent(mapStoreError(serverErr(codeUnauthorized, "Unauthorized"))))
	require.True(t, retry.IsPermanent(mapStoreError(serverErr(codeInvalidReplicaSetConfig, "InvalidReplicaSetConfig"))))
	require.True(t, retry.IsPermanent(mapStoreError(errors.New("connection() error occurred during connection handshake: auth error: sasl conversation error"))))
}

func TestMapStoreErrorPassthrough(t *testing.T) {
	require.ErrorIs(t, mapStoreError(context.Canceled), context.Canceled)
	require.NoError(t, mapStoreError(nil))

	plain := errors.New("some application error")
	require.Equal(t, plain, mapStoreError(plain))
}

func TestDocumentID(t *testing.T) {
	oid := primitive.NewObjectID()
	key, err := bson.Marshal(bson.D{{Key: "_id", Value: oid}})
	require.NoError(t, err)
	require.Equal(t, oid.Hex(), documentID(bson.Raw(key)))

	key, err = bson.Marshal(bson.D{{Key: "_id", Value: "order-17"}})
	require.NoError(t, err)
	require.Equal(t, "order-17", documentID(bson.Raw(key)))

	key, err = bson.Marshal(bson.D{})
	require.NoError(t, err)
	require.Equal(t, "", documentID(bson.Raw(key)))
}

func TestMemberParticipating(t *testing.T) {
	require.True(t, memberParticipating(memberStatePrimary))
	require.True(t, memberParticipating(memberStateSecondary))
	require.True(t, memberParticipating(memberStateArbiter))
	require.False(t, memberParticipating(memberStateStartup))
	require.False(t, memberParticipating(memberStateRecovering))
	require.False(t, memberParticipating(memberStateDown))
}
