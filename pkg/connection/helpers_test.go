package connection

import "github.com/cozy/realtime.go/pkg/models"

func docKey(id string) models.SubscriptionKey {
	return models.NewDocumentKey(models.EventUpdated, "io.cozy.files", id)
}

func wideKey() models.SubscriptionKey {
	return models.NewKey(models.EventCreated, "io.cozy.files")
}
