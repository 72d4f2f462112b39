// Package catalog — тонкий адаптер к API каталога данных: проекты, профили пользователей,
// заявки на подписку и решение по ним.
package catalog

import (
	"context"
	"fmt"
)

// Client — операции каталога, которые нужны мосту.
type Client interface {
	GetProject(ctx context.Context, domainID, projectID string) (*Project, error)
	GetUserProfile(ctx context.Context, domainID, userID string, userType UserType) (*UserProfile, error)
	GetSubscriptionRequestDetails(ctx context.Context, domainID, requestID string) (*SubscriptionRequestDetails, error)
	AcceptSubscriptionRequest(ctx context.Context, domainID, requestID, comment string) error
	RejectSubscriptionRequest(ctx context.Context, domainID, requestID, comment string) error
}

type UserType string

const (
	UserTypeSSO UserType = "SSO"
	UserTypeIAM UserType = "IAM"
)

type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type UserProfile struct {
	ID      string      `json:"id"`
	Type    UserType    `json:"type"`
	Details UserDetails `json:"details"`
}

type UserDetails struct {
	SSO *SSODetails `json:"sso,omitempty"`
	IAM *IAMDetails `json:"iam,omitempty"`
}

type SSODetails struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type IAMDetails struct {
	ARN string `json:"arn"`
}

type SubscriptionRequestDetails struct {
	ID                 string              `json:"id"`
	Status             string              `json:"status"`
	RequestReason      string              `json:"requestReason"`
	SubscribedListings []SubscribedListing `json:"subscribedListings"`
}

type SubscribedListing struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	OwnerProjectID   string      `json:"ownerProjectId"`
	OwnerProjectName string      `json:"ownerProjectName"`
	Item             ListingItem `json:"item"`
}

type ListingItem struct {
	AssetListing *AssetListing `json:"assetListing"`
}

// AssetListing.Forms — JSON строка с формами ассета (GlueTableForm, DataSourceReferenceForm и т.д.).
type AssetListing struct {
	AssetID string `json:"assetId"`
	Forms   string `json:"forms"`
}

// APIError — каталог ответил не 2xx.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("catalog api error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("catalog api error: status %d: %s - %s", e.StatusCode, e.Code, e.Message)
}
