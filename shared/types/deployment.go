// Copyright 2025 StroiNadzor
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

// DeploymentMode represents where the assistant runs.
type DeploymentMode string

const (
	// DeploymentModeCloud is the managed deployment. Credentials come from
	// AWS Secrets Manager and all paid backends are enabled.
	DeploymentModeCloud DeploymentMode = "cloud"

	// DeploymentModeSelfHosted runs on customer infrastructure. Credentials
	// come from the environment and cost-heavy features default off.
	DeploymentModeSelfHosted DeploymentMode = "selfhosted"
)

// String returns the string representation of the DeploymentMode
func (m DeploymentMode) String() string {
	return string(m)
}

// IsValid returns true if the DeploymentMode is a valid known value
func (m DeploymentMode) IsValid() bool {
	switch m {
	case DeploymentModeCloud, DeploymentModeSelfHosted:
		return true
	default:
		return false
	}
}

// DeploymentConfig contains deployment-specific settings that control where
// credentials are read from and which cost-heavy features are available.
type DeploymentConfig struct {
	// Mode is the deployment type (cloud or selfhosted)
	Mode DeploymentMode `json:"mode"`

	// UseSecretsManager reads backend API keys from AWS Secrets Manager
	// instead of the environment.
	UseSecretsManager bool `json:"use_secrets_manager"`

	// EnableImageGeneration allows image-generation requests. Off means
	// drawing requests are answered with text only.
	EnableImageGeneration bool `json:"enable_image_generation"`

	// EnableWebSearch allows backends to ground answers in live web
	// results, which is billed separately by the provider.
	EnableWebSearch bool `json:"enable_web_search"`
}

// DefaultCloudConfig returns the default configuration for the managed
// deployment: secrets from Secrets Manager, everything enabled.
func DefaultCloudConfig() DeploymentConfig {
	return DeploymentConfig{
		Mode:                  DeploymentModeCloud,
		UseSecretsManager:     true,
		EnableImageGeneration: true,
		EnableWebSearch:       true,
	}
}

// DefaultSelfHostedConfig returns the default configuration for self-hosted
// deployments: secrets from the environment, cost-heavy features off.
func DefaultSelfHostedConfig() DeploymentConfig {
	return DeploymentConfig{
		Mode:                  DeploymentModeSelfHosted,
		UseSecretsManager:     false,
		EnableImageGeneration: false,
		EnableWebSearch:       false,
	}
}

// IsCloud returns true for the managed deployment
func (c DeploymentConfig) IsCloud() bool {
	return c.Mode == DeploymentModeCloud
}

// IsSelfHosted returns true for self-hosted deployments
func (c DeploymentConfig) IsSelfHosted() bool {
	return c.Mode == DeploymentModeSelfHosted
}
