package trust

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/stretchr/testify/require"
)

type fakeSTS struct {
	assumeFn func(ctx context.Context, params *sts.AssumeRoleInput) (*sts.AssumeRoleOutput, error)
	calls    int
}

func (f *fakeSTS) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.calls++
	return f.assumeFn(ctx, params)
}

func TestAssumeScopedRole(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)

	var captured *sts.AssumeRoleInput
	client := &fakeSTS{
		assumeFn: func(ctx context.Context, params *sts.AssumeRoleInput) (*sts.AssumeRoleOutput, error) {
			captured = params
			return &sts.AssumeRoleOutput{
				Credentials: &ststypes.Credentials{
					AccessKeyId:     aws.String("AKIASCOPED"),
					SecretAccessKey: aws.String("secret"),
					SessionToken:    aws.String("token"),
					Expiration:      aws.Time(expiry),
				},
			}, nil
		},
	}

	broker := NewBroker(client, "")
	cred, err := broker.AssumeScopedRole(context.Background(), "123456789012", "acme")
	require.NoError(t, err)

	require.Equal(t, "AKIASCOPED", cred.AccessKeyID)
	require.Equal(t, "secret", cred.SecretAccessKey)
	require.Equal(t, "token", cred.SessionToken)
	require.Equal(t, expiry, cred.Expiration)

	require.Equal(t, "arn:aws:iam::123456789012:role/tenantctl-provisioner", aws.ToString(captured.RoleArn))
	require.Equal(t, "tenantctl-acme", aws.ToString(captured.RoleSessionName))
	require.Equal(t, int32(3600), aws.ToInt32(captured.DurationSeconds))

	require.Len(t, captured.Tags, 1)
	require.Equal(t, "tenant_id", aws.ToString(captured.Tags[0].Key))
	require.Equal(t, "acme", aws.ToString(captured.Tags[0].Value))
}

func TestAssumeScopedRoleCustomRoleName(t *testing.T) {
	client := &fakeSTS{
		assumeFn: func(ctx context.Context, params *sts.AssumeRoleInput) (*sts.AssumeRoleOutput, error) {
			require.Equal(t, "arn:aws:iam::123456789012:role/custom-provisioner", aws.ToString(params.RoleArn))
			return &sts.AssumeRoleOutput{Credentials: &ststypes.Credentials{
				AccessKeyId:     aws.String("a"),
				SecretAccessKey: aws.String("b"),
				SessionToken:    aws.String("c"),
				Expiration:      aws.Time(time.Now()),
			}}, nil
		},
	}

	broker := NewBroker(client, "custom-provisioner")
	_, err := broker.AssumeScopedRole(context.Background(), "123456789012", "acme")
	require.NoError(t, err)
}

func TestAssumeScopedRoleValidation(t *testing.T) {
	broker := NewBroker(&fakeSTS{}, "")

	_, err := broker.AssumeScopedRole(context.Background(), "", "acme")
	require.ErrorIs(t, err, ErrTrustDenied)

	_, err = broker.AssumeScopedRole(context.Background(), "123456789012", "")
	require.ErrorIs(t, err, ErrTrustDenied)
}

func TestClassifyAssumeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "access denied is terminal",
			err:  errors.New("AccessDenied: User is not authorized"),
			want: ErrTrustDenied,
		},
		{
			name: "missing permission is terminal",
			err:  errors.New("User: arn:aws:iam::1:user/x is not authorized to perform: sts:AssumeRole"),
			want: ErrTrustDenied,
		},
		{
			name: "throttling is retryable",
			err:  errors.New("ThrottlingException: rate exceeded"),
			want: ErrTrustUnavailable,
		},
		{
			name: "network failure is retryable",
			err:  errors.New("dial tcp: i/o timeout"),
			want: ErrTrustUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeSTS{
				assumeFn: func(ctx context.Context, params *sts.AssumeRoleInput) (*sts.AssumeRoleOutput, error) {
					return nil, tt.err
				},
			}

			broker := NewBroker(client, "")
			_, err := broker.AssumeScopedRole(context.Background(), "123456789012", "acme")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAssumeScopedRoleEmptyCredentials(t *testing.T) {
	client := &fakeSTS{
		assumeFn: func(ctx context.Context, params *sts.AssumeRoleInput) (*sts.AssumeRoleOutput, error) {
			return &sts.AssumeRoleOutput{}, nil
		},
	}

	broker := NewBroker(client, "")
	_, err := broker.AssumeScopedRole(context.Background(), "123456789012", "acme")
	require.ErrorIs(t, err, ErrTrustUnavailable)
}
