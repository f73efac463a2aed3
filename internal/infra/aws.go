// README: AWS API Gateway Management client for pushing to websocket connections.
package infra

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
)

// NewAPIGatewayClient builds a client for the websocket API's @connections
// endpoint. Credentials come from the default AWS chain.
func NewAPIGatewayClient(ctx context.Context, region, apiID, stage string) (*apigatewaymanagementapi.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	endpoint := fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s", apiID, region, stage)
	return apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	}), nil
}
