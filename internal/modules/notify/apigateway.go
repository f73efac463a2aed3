// README: API Gateway websocket offer channel; the connectivity handle is the gateway connection id.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apitypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"

	"ridematch/internal/modules/matching"
)

type connectionPoster interface {
	PostToConnection(ctx context.Context, in *apigatewaymanagementapi.PostToConnectionInput, opts ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

type APIGatewayChannel struct {
	client connectionPoster
}

func NewAPIGatewayChannel(client *apigatewaymanagementapi.Client) *APIGatewayChannel {
	return &APIGatewayChannel{client: client}
}

func (a *APIGatewayChannel) SendOffer(ctx context.Context, connectionID string, o matching.Offer) error {
	payload, err := offerPayload(o)
	if err != nil {
		return err
	}
	return a.post(ctx, connectionID, payload)
}

func (a *APIGatewayChannel) SendCancellation(ctx context.Context, connectionID string, c matching.Cancellation) error {
	payload, err := cancellationPayload(c)
	if err != nil {
		return err
	}
	return a.post(ctx, connectionID, payload)
}

func (a *APIGatewayChannel) post(ctx context.Context, connectionID string, payload []byte) error {
	_, err := a.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         payload,
	})
	if err != nil {
		var gone *apitypes.GoneException
		if errors.As(err, &gone) {
			return fmt.Errorf("notify.APIGateway post %s: %w", connectionID, ErrNotConnected)
		}
		return fmt.Errorf("notify.APIGateway post %s: %w", connectionID, err)
	}
	return nil
}
