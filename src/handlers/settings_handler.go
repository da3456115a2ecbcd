// src/handlers/settings_handler.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/williams2w4/tradej/src/config"
	"github.com/williams2w4/tradej/src/database"
	"github.com/williams2w4/tradej/src/logger"
	"github.com/williams2w4/tradej/src/model"
	"github.com/williams2w4/tradej/src/models"
	"github.com/williams2w4/tradej/src/services"
	"github.com/williams2w4/tradej/src/utils"
)

type SettingsHandler struct {
	importService services.ImportService
}

func NewSettingsHandler(importService services.ImportService) *SettingsHandler {
	return &SettingsHandler{importService: importService}
}

type settingsResponse struct {
	Timezone string `json:"timezone"`
	Currency string `json:"currency"`
}

type settingsUpdateRequest struct {
	Timezone *string `json:"timezone"`
	Currency *string `json:"currency"`
}

// displayPreferences resolves the effective presentation timezone and
// currency: the saved user setting when present, configured defaults
// otherwise. Report handlers may further override per request via query
// parameters.
func displayPreferences() (timezone, currency string) {
	timezone = config.Cfg.DefaultTimezone
	currency = config.Cfg.DefaultCurrency

	setting, err := model.GetUserSetting(database.DB)
	if err != nil {
		logger.L.Error("Failed to load user settings, using defaults", "error", err)
		return timezone, currency
	}
	if setting != nil {
		if setting.Timezone != "" {
			timezone = setting.Timezone
		}
		if setting.Currency != "" {
			currency = setting.Currency
		}
	}
	return timezone, currency
}

func (h *SettingsHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	timezone, currency := displayPreferences()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(settingsResponse{Timezone: timezone, Currency: currency}); err != nil {
		logger.L.Error("Error encoding settings response", "error", err)
	}
}

func (h *SettingsHandler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Timezone == nil && req.Currency == nil {
		utils.SendJSONError(w, "Nothing to update: provide 'timezone' and/or 'currency'", http.StatusBadRequest)
		return
	}

	setting, err := model.GetUserSetting(database.DB)
	if err != nil {
		logger.L.Error("Failed to load user settings for update", "error", err)
		utils.SendJSONError(w, "An internal error occurred while loading settings", http.StatusInternalServerError)
		return
	}
	if setting == nil {
		setting = &models.UserSetting{
			Timezone: config.Cfg.DefaultTimezone,
			Currency: config.Cfg.DefaultCurrency,
		}
	}

	if req.Timezone != nil {
		if _, err := utils.LoadLocation(*req.Timezone); err != nil {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		setting.Timezone = *req.Timezone
	}
	if req.Currency != nil {
		setting.Currency = utils.NormalizeCurrency(*req.Currency)
	}

	if err := model.SaveUserSetting(database.DB, setting); err != nil {
		logger.L.Error("Failed to save user settings", "error", err)
		utils.SendJSONError(w, "An internal error occurred while saving settings", http.StatusInternalServerError)
		return
	}

	// Cached reports were rendered in the old timezone/currency.
	h.importService.InvalidateReports()
	logger.L.Info("User settings updated", "timezone", setting.Timezone, "currency", setting.Currency)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(settingsResponse{Timezone: setting.Timezone, Currency: setting.Currency}); err != nil {
		logger.L.Error("Error encoding settings response", "error", err)
	}
}
