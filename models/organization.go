package models

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"bitbucket.org/mmdatafocus/simplerp_gateway/utils"
)

type Organization struct {
	ID      upstream.ID     `json:"id"`
	Name    string          `json:"name" validate:"required,max=200"`
	Code    string          `json:"code,omitempty" validate:"max=50"`
	Address string          `json:"address,omitempty"`
	PhoneNo string          `json:"phoneNo,omitempty" validate:"omitempty,phone"`
	Email   string          `json:"email,omitempty" validate:"omitempty,email"`
	Links   *upstream.Links `json:"_links,omitempty"`
}

// Normalize fills the id from the HAL self link when the body has none.
func (o *Organization) Normalize() {
	o.ID = upstream.FirstID(o.ID, o.Links.SelfID())
	o.Name = strings.TrimSpace(o.Name)
	o.Links = nil
}

/*
caches:
	Organizations:$username   list, short lived
*/

func organizationsCacheKey(ctx context.Context) string {
	username, _ := utils.GetUsernameFromContext(ctx)
	return "Organizations:" + username
}

// ListOrganizations returns every organization visible to the session.
func ListOrganizations(ctx context.Context) ([]Organization, error) {
	var cached []Organization
	if exists, err := config.GetRedisObject(ctx, organizationsCacheKey(ctx), &cached); err == nil && exists {
		return cached, nil
	}

	body, err := upstream.Default().Get(ctx, "/organizations", nil)
	if err != nil {
		return nil, err
	}
	page, err := upstream.DecodePage[Organization](body, "organizations")
	if err != nil {
		return nil, err
	}
	for i := range page.Items {
		page.Items[i].Normalize()
	}

	if err := config.SetRedisObject(ctx, organizationsCacheKey(ctx), page.Items, config.SummaryCacheTTL()); err != nil {
		config.LogError(config.GetLogger(), "Organization", "ListOrganizations", "Caching organizations", nil, err)
	}
	return page.Items, nil
}

func removeOrganizationsCache(ctx context.Context) {
	if err := config.RemoveRedisKey(ctx, organizationsCacheKey(ctx)); err != nil {
		config.LogError(config.GetLogger(), "Organization", "removeOrganizationsCache", "Removing cache", nil, err)
	}
}
