// Package subscription собирает заявку на подписку из каталога и применяет к ней решение.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/catalog"
	"github.com/xela07ax/dz-approval-bridge/internal/domain"
)

// catalogEvent — событие каталога "создана заявка на подписку" (только нужные поля).
type catalogEvent struct {
	Time   string `json:"time"`
	Detail struct {
		Metadata struct {
			Domain          string `json:"domain"`
			ID              string `json:"id"`
			OwningProjectID string `json:"owningProjectId"`
		} `json:"metadata"`
		Data struct {
			RequesterID        string `json:"requesterId"`
			SubscribedListings []struct {
				OwnerProjectID string `json:"ownerProjectId"`
			} `json:"subscribedListings"`
		} `json:"data"`
	} `json:"detail"`
}

// assetForms — содержимое AssetListing.Forms.
type assetForms struct {
	GlueTableForm *struct {
		Region         string `json:"region"`
		TableName      string `json:"tableName"`
		TableArn       string `json:"tableArn"`
		SourceLocation string `json:"sourceLocation"`
	} `json:"GlueTableForm"`
	DataSourceReferenceForm *struct {
		DataSourceIdentifier *struct {
			GlueConfigurationForm *struct {
				AccountID string `json:"accountId"`
			} `json:"GlueConfigurationForm"`
			DataSourceCommonForm *struct {
				Type string `json:"type"`
			} `json:"DataSourceCommonForm"`
		} `json:"dataSourceIdentifier"`
	} `json:"DataSourceReferenceForm"`
}

// Fetcher собирает ApprovalRequest: разбор события и три зависимых запроса в каталог.
type Fetcher struct {
	catalog catalog.Client
	logger  *zap.Logger
	now     func() time.Time
}

func NewFetcher(c catalog.Client, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		catalog: c,
		logger:  logger.With(zap.String("mod", "fetcher")),
		now:     time.Now,
	}
}

// Fetch возвращает *domain.ValidationError, если в событии или ответах каталога нет ожидаемых полей.
// Ошибки самого каталога пробрасываются как есть.
func (f *Fetcher) Fetch(ctx context.Context, event json.RawMessage) (*domain.ApprovalRequest, error) {
	// 1. Идентификаторы из события. Битое событие отсекаем до любых сетевых вызовов.
	req, err := parseEvent(event)
	if err != nil {
		return nil, err
	}

	log := f.logger.With(
		zap.String("domain_id", req.DomainID),
		zap.String("subscription_req_id", req.RequestID))

	// 2. Имя проекта-подписчика
	project, err := f.catalog.GetProject(ctx, req.DomainID, req.SubscriberProjectID)
	if err != nil {
		return nil, err
	}
	req.SubscriberProjectName = project.Name

	// 3. Кто запросил. Каталог отдает и IAM, и SSO профиль только по типу SSO.
	profile, err := f.catalog.GetUserProfile(ctx, req.DomainID, req.RequesterID, catalog.UserTypeSSO)
	if err != nil {
		return nil, err
	}
	req.RequesterType = string(profile.Type)
	switch profile.Type {
	case catalog.UserTypeSSO:
		if profile.Details.SSO != nil {
			req.RequesterDetails = profile.Details.SSO.Username
		}
	case catalog.UserTypeIAM:
		if profile.Details.IAM != nil {
			req.RequesterDetails = profile.Details.IAM.ARN
		}
	}

	// 4. Детали заявки: листинг -> формы ассета -> источник данных
	details, err := f.catalog.GetSubscriptionRequestDetails(ctx, req.DomainID, req.RequestID)
	if err != nil {
		return nil, err
	}
	if err := fillTarget(req, details); err != nil {
		return nil, err
	}

	req.FetchedAt = f.now().UTC()
	log.Debug("subscription request fetched",
		zap.String("catalog_name", req.CatalogName),
		zap.String("requester_type", req.RequesterType))
	return req, nil
}

// Identifiers — домен и заявка из события без обращения к каталогу.
func Identifiers(event json.RawMessage) (domainID, requestID string, err error) {
	req, err := parseEvent(event)
	if err != nil {
		return "", "", err
	}
	return req.DomainID, req.RequestID, nil
}

func parseEvent(raw json.RawMessage) (*domain.ApprovalRequest, error) {
	var ev catalogEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, domain.NewValidationError("event", "not a valid subscription request event: "+err.Error())
	}

	md, data := ev.Detail.Metadata, ev.Detail.Data
	required := []struct{ field, value string }{
		{"detail.metadata.domain", md.Domain},
		{"detail.metadata.id", md.ID},
		{"detail.metadata.owningProjectId", md.OwningProjectID},
		{"detail.data.requesterId", data.RequesterID},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, domain.NewValidationError(r.field, "is missing in the event")
		}
	}
	if len(data.SubscribedListings) == 0 {
		return nil, domain.NewValidationError("detail.data.subscribedListings", "no subscribed listings found in the event")
	}

	return &domain.ApprovalRequest{
		DomainID:            md.Domain,
		RequestID:           md.ID,
		SubscriberProjectID: md.OwningProjectID,
		RequesterID:         data.RequesterID,
		OwnerProjectID:      data.SubscribedListings[0].OwnerProjectID,
		RequestDate:         ev.Time,
	}, nil
}

func fillTarget(req *domain.ApprovalRequest, d *catalog.SubscriptionRequestDetails) error {
	if len(d.SubscribedListings) == 0 {
		return domain.NewValidationError("subscribedListings", "no subscribed listings found in the response")
	}
	listing := d.SubscribedListings[0]
	if listing.Item.AssetListing == nil {
		return domain.NewValidationError("subscribedListings[0].item.assetListing", "no target data information found in the response")
	}
	if strings.TrimSpace(listing.Item.AssetListing.Forms) == "" {
		return domain.NewValidationError("assetListing.forms", "no target data form found in the response")
	}

	var forms assetForms
	if err := json.Unmarshal([]byte(listing.Item.AssetListing.Forms), &forms); err != nil {
		return domain.NewValidationError("assetListing.forms", "target data form is not valid JSON: "+err.Error())
	}
	if forms.DataSourceReferenceForm == nil || forms.DataSourceReferenceForm.DataSourceIdentifier == nil {
		return domain.NewValidationError("DataSourceReferenceForm.dataSourceIdentifier", "no target data source form found in the response")
	}
	if forms.GlueTableForm == nil {
		return domain.NewValidationError("GlueTableForm", "no table form found in the response")
	}

	src := forms.DataSourceReferenceForm.DataSourceIdentifier
	if src.GlueConfigurationForm != nil {
		req.Account = src.GlueConfigurationForm.AccountID
	}
	if src.DataSourceCommonForm != nil {
		req.DataType = src.DataSourceCommonForm.Type
	}

	table := forms.GlueTableForm
	db, err := databaseFromARN(table.TableArn)
	if err != nil {
		return err
	}
	req.Region = table.Region
	req.TechnicalName = table.TableName
	req.TableARN = table.TableArn
	req.DatabaseName = db
	req.BucketLocation = table.SourceLocation

	req.OwnerProjectName = listing.OwnerProjectName
	req.CatalogName = listing.Name
	req.RequestReason = d.RequestReason
	if req.OwnerProjectID == "" {
		req.OwnerProjectID = listing.OwnerProjectID
	}
	return nil
}

// databaseFromARN: arn:aws:glue:<region>:<account>:table/<db>/<table> -> <db>
func databaseFromARN(arn string) (string, error) {
	parts := strings.Split(arn, "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", domain.NewValidationError("GlueTableForm.tableArn", fmt.Sprintf("cannot extract database name from %q", arn))
	}
	return parts[1], nil
}
