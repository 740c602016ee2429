package seed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/internal/testutil"
)

func TestSeedSubscriptionPlans(t *testing.T) {
	db := testutil.NewDB(t)

	require.NoError(t, SeedSubscriptionPlans(db))
	require.NoError(t, SeedSubscriptionPlans(db))

	var plans []model.SubscriptionPlan
	require.NoError(t, db.Preload("Prices").Find(&plans).Error)
	assert.Len(t, plans, 4)

	var premium model.SubscriptionPlan
	require.NoError(t, db.Preload("Prices").
		Where("name = ? AND user_type = ?", "Premium", "enterprenuer").First(&premium).Error)
	assert.Equal(t, 5, premium.PitchLimit)
	assert.Equal(t, "global", premium.Visibility)
	require.Len(t, premium.Prices, 2)

	var monthly model.SubscriptionPrice
	require.NoError(t, db.Where("plan_id = ? AND billing_interval = ?", premium.ID, "monthly").First(&monthly).Error)
	assert.Equal(t, int64(6900), monthly.Amount)

	var count int64
	db.Model(&model.SubscriptionPrice{}).Count(&count)
	assert.Equal(t, int64(4), count)
}
