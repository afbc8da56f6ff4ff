package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"listsync/models"
	"listsync/provider"
	"listsync/queue"
	"listsync/store"
	"listsync/utils"
)

// CampaignController manages campaigns and drives sends through either the
// delivery queue (internal provider) or the configured provider's campaign
// API (everything else).
type CampaignController struct {
	Campaigns   *store.CampaignStore
	Subscribers *store.SubscriberStore
	Gateway     provider.Gateway
	Queue       *queue.Queue
	Mailer      *utils.Mailer
	Logger      *logrus.Logger
}

func NewCampaignController(campaigns *store.CampaignStore, subscribers *store.SubscriberStore, gw provider.Gateway, q *queue.Queue, mailer *utils.Mailer, logger *logrus.Logger) *CampaignController {
	return &CampaignController{
		Campaigns:   campaigns,
		Subscribers: subscribers,
		Gateway:     gw,
		Queue:       q,
		Mailer:      mailer,
		Logger:      logger,
	}
}

// GetCampaign handles GET /campaigns/:id.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	campaign, err := cc.Campaigns.Find(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load campaign", err)
	}
	if campaign == nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	return c.JSON(utils.SuccessResponse(campaign))
}

// SaveCampaign handles PUT /campaigns/:id (create or update).
func (cc *CampaignController) SaveCampaign(c *fiber.Ctx) error {
	var input struct {
		Title       string `json:"title"`
		Content     string `json:"content"`
		Owner       string `json:"owner"`
		AccessGroup string `json:"access_group"`
		ExpireDays  int    `json:"expire_days"`
		UseTemplate bool   `json:"use_template"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	id := c.Params("id")
	campaign, err := cc.Campaigns.Find(id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load campaign", err)
	}
	if campaign == nil {
		campaign = &models.Campaign{ID: id}
	}
	campaign.Title = input.Title
	campaign.Content = input.Content
	campaign.Owner = input.Owner
	campaign.AccessGroup = input.AccessGroup
	campaign.ExpireDays = input.ExpireDays
	campaign.UseTemplate = input.UseTemplate

	if err := cc.Campaigns.Save(campaign); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Campaign validation failed", err)
	}
	return c.JSON(utils.SuccessResponse(campaign))
}

// DeleteCampaign handles DELETE /campaigns/:id. The provider-side campaign,
// when one was created, is deleted first.
func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	id := c.Params("id")
	campaign, err := cc.Campaigns.Find(id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load campaign", err)
	}
	if campaign == nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}

	mapping, err := cc.Campaigns.Mapping(id, cc.Gateway.Name())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load provider mapping", err)
	}
	if mapping != nil {
		if err := cc.Gateway.DeleteCampaign(c.Context(), mapping.ProviderCampaignID); err != nil {
			cc.Logger.WithFields(logrus.Fields{
				"campaign_id": id,
				"provider":    cc.Gateway.Name(),
			}).Warnf("provider campaign delete failed: %v", err)
		}
	}

	if err := cc.Campaigns.Delete(id); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete campaign", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": "deleted"}))
}

// SendCampaign handles POST /campaigns/:id/send. With the internal provider
// the recipients are queued for rate-limited delivery; with a remote
// provider the campaign is pushed (once) and sent through its API.
func (cc *CampaignController) SendCampaign(c *fiber.Ctx) error {
	id := c.Params("id")
	campaign, err := cc.Campaigns.Find(id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load campaign", err)
	}
	if campaign == nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}

	if cc.Gateway.Name() == provider.NameInternal {
		queued, err := cc.enqueueActiveSubscribers(id)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to queue campaign", err)
		}
		if err := cc.Campaigns.TouchLastSent(id); err != nil {
			cc.Logger.WithField("campaign_id", id).Warnf("failed to record send time: %v", err)
		}
		return c.JSON(utils.SuccessResponse(fiber.Map{
			"status": "queued",
			"queued": queued,
		}))
	}

	mapping, err := cc.ensureMapping(c, campaign)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Provider campaign creation failed", err)
	}
	if err := cc.Gateway.SendCampaign(c.Context(), mapping.ProviderCampaignID); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Provider send failed", err)
	}
	if err := cc.Campaigns.TouchLastSent(id); err != nil {
		cc.Logger.WithField("campaign_id", id).Warnf("failed to record send time: %v", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": "sent"}))
}

// SendTest handles POST /campaigns/:id/test with body {"to": "..."}.
func (cc *CampaignController) SendTest(c *fiber.Ctx) error {
	var input struct {
		To string `json:"to"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateEmail(input.To); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid test address", err)
	}

	id := c.Params("id")
	campaign, err := cc.Campaigns.Find(id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load campaign", err)
	}
	if campaign == nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}

	if cc.Gateway.Name() == provider.NameInternal {
		_, err := cc.Mailer.SendCampaign(campaign, []utils.Recipient{{Email: input.To}})
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Test send failed", err)
		}
		return c.JSON(utils.SuccessResponse(fiber.Map{"status": "test sent"}))
	}

	mapping, err := cc.ensureMapping(c, campaign)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Provider campaign creation failed", err)
	}
	if err := cc.Gateway.SendTest(c.Context(), mapping.ProviderCampaignID, input.To); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Provider test send failed", err)
	}
	if err := cc.Campaigns.MarkTested(id, cc.Gateway.Name()); err != nil {
		cc.Logger.WithField("campaign_id", id).Warnf("failed to mark campaign tested: %v", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": "test sent"}))
}

// ensureMapping returns the provider-side campaign for this campaign,
// creating and recording it on first use so repeat sends reuse the remote
// object.
func (cc *CampaignController) ensureMapping(c *fiber.Ctx, campaign *models.Campaign) (*models.CampaignProvider, error) {
	mapping, err := cc.Campaigns.Mapping(campaign.ID, cc.Gateway.Name())
	if err != nil {
		return nil, err
	}
	if mapping != nil {
		return mapping, nil
	}

	providerCampaignID, err := cc.Gateway.CreateCampaign(c.Context(), campaign)
	if err != nil {
		return nil, err
	}
	return cc.Campaigns.SaveMapping(campaign.ID, cc.Gateway.Name(), providerCampaignID)
}

const sendPageSize = 200

func (cc *CampaignController) enqueueActiveSubscribers(campaignID string) (int, error) {
	queued := 0
	offset := 0
	for {
		subs, err := cc.Subscribers.List(offset, sendPageSize)
		if err != nil {
			return queued, err
		}
		recipients := make([]utils.Recipient, 0, len(subs))
		for i := range subs {
			if subs[i].Status != models.StatusActive {
				continue
			}
			recipients = append(recipients, utils.Recipient{
				Email: subs[i].Email,
				Name:  subs[i].AttributeMap()["first_name"],
			})
		}
		n, err := cc.Queue.EnqueueCampaign(campaignID, recipients)
		queued += n
		if err != nil {
			return queued, err
		}
		if len(subs) < sendPageSize {
			return queued, nil
		}
		offset += sendPageSize
	}
}
