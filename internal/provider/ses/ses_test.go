package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shineum/groupmail/internal/email"
)

type mockSESClient struct {
	mock.Mock
}

func (m *mockSESClient) GetAccount(ctx context.Context, params *sesv2.GetAccountInput, _ ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sesv2.GetAccountOutput)
	return out, args.Error(1)
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sesv2.SendEmailOutput)
	return out, args.Error(1)
}

func testEmail() *email.Email {
	return &email.Email{
		From:     "sender@example.com",
		FromName: "Sender Team",
		To:       []string{"ana@example.com"},
		ToName:   "Ana",
		Subject:  "Test Subject",
		TextBody: "Plain",
		HtmlBody: "<p>Hello Ana</p>",
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ses", NewWithClient(&mockSESClient{}).Name())
}

func TestOpenAndSend(t *testing.T) {
	t.Parallel()

	client := &mockSESClient{}
	client.On("GetAccount", mock.Anything, mock.Anything).
		Return(&sesv2.GetAccountOutput{SendingEnabled: true}, nil).Once()
	client.On("SendEmail", mock.Anything, mock.Anything).
		Return(&sesv2.SendEmailOutput{MessageId: aws.String("ses-id")}, nil).Once()

	sess, err := NewWithClient(client).Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Send(context.Background(), testEmail()))
	client.AssertExpectations(t)

	input := client.Calls[1].Arguments.Get(1).(*sesv2.SendEmailInput)
	assert.Equal(t, `"Sender Team" <sender@example.com>`, aws.ToString(input.FromEmailAddress))
	assert.Equal(t, []string{`"Ana" <ana@example.com>`}, input.Destination.ToAddresses)
	assert.Equal(t, "Test Subject", aws.ToString(input.Content.Simple.Subject.Data))
	assert.Equal(t, "Plain", aws.ToString(input.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>Hello Ana</p>", aws.ToString(input.Content.Simple.Body.Html.Data))
	assert.Equal(t, "UTF-8", aws.ToString(input.Content.Simple.Body.Html.Charset))
}

func TestOpen_Failures(t *testing.T) {
	t.Parallel()

	t.Run("credentials rejected", func(t *testing.T) {
		t.Parallel()
		client := &mockSESClient{}
		client.On("GetAccount", mock.Anything, mock.Anything).
			Return(nil, errors.New("InvalidClientTokenId")).Once()

		_, err := NewWithClient(client).Open(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "InvalidClientTokenId")
		client.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
	})

	t.Run("sending disabled", func(t *testing.T) {
		t.Parallel()
		client := &mockSESClient{}
		client.On("GetAccount", mock.Anything, mock.Anything).
			Return(&sesv2.GetAccountOutput{SendingEnabled: false}, nil).Once()

		_, err := NewWithClient(client).Open(context.Background())
		require.ErrorIs(t, err, ErrSendingDisabled)
	})
}

func TestSend_ErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	client := &mockSESClient{}
	client.On("GetAccount", mock.Anything, mock.Anything).
		Return(&sesv2.GetAccountOutput{SendingEnabled: true}, nil).Once()
	client.On("SendEmail", mock.Anything, mock.Anything).
		Return(nil, errors.New("MessageRejected: Email address is not verified")).Once()

	sess, err := NewWithClient(client).Open(context.Background())
	require.NoError(t, err)

	err = sess.Send(context.Background(), testEmail())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MessageRejected")
	client.AssertNumberOfCalls(t, "SendEmail", 1)
}

func TestBuildInput_NoNameNoText(t *testing.T) {
	t.Parallel()

	msg := testEmail()
	msg.FromName = ""
	msg.ToName = ""
	msg.TextBody = ""

	input := buildInput(msg)
	assert.Equal(t, "sender@example.com", aws.ToString(input.FromEmailAddress))
	assert.Equal(t, []string{"ana@example.com"}, input.Destination.ToAddresses)
	assert.Nil(t, input.Content.Simple.Body.Text)
	assert.NotNil(t, input.Content.Simple.Body.Html)
}
