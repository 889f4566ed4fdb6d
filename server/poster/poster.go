package poster

import (
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/formatter"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/hashtag"
)

// Poster posts crisis alerts and SOS broadcasts to Mattermost channels.
// It only holds immutable configuration (API and botID).
type Poster struct {
	api   plugin.API
	botID string
}

// New creates a new Poster instance.
func New(api plugin.API, botID string) *Poster {
	return &Poster{
		api:   api,
		botID: botID,
	}
}

// PostAlert posts a newly submitted alert, followed by a threaded reply with its hashtags.
//
// Returns an error only if the main post fails. A failed reply is logged.
func (p *Poster) PostAlert(alert crisis.Alert, channelID string) error {
	return p.post(channelID, formatter.FormatAlert(alert), hashtag.Generate(alert), "alertId", alert.AlertID)
}

// PostVerified announces that an alert crossed the verification threshold.
func (p *Poster) PostVerified(alert crisis.Alert, channelID string) error {
	return p.post(channelID, formatter.FormatVerified(alert), "", "alertId", alert.AlertID)
}

// PostSOS posts an SOS broadcast with its hashtags as a threaded reply.
func (p *Poster) PostSOS(sos crisis.SOS, channelID string) error {
	return p.post(channelID, formatter.FormatSOS(sos), hashtag.GenerateSOS(sos), "sosId", sos.SOSID)
}

func (p *Poster) post(channelID string, attachment *model.SlackAttachment, tags string, idKey, id string) error {
	post := &model.Post{
		UserId:    p.botID,
		ChannelId: channelID,
		Type:      model.PostTypeSlackAttachment,
		Props:     model.StringInterface{},
	}
	model.ParseSlackAttachment(post, []*model.SlackAttachment{attachment})

	created, appErr := p.api.CreatePost(post)
	if appErr != nil {
		return appErr
	}

	if tags == "" {
		return nil
	}

	reply := &model.Post{
		UserId:    p.botID,
		ChannelId: channelID,
		RootId:    created.Id,
		Message:   tags,
	}
	if _, appErr := p.api.CreatePost(reply); appErr != nil {
		p.api.LogError("Failed to post hashtag reply", "error", appErr.Error(), idKey, id)
	}

	return nil
}
