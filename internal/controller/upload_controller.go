package controller

import (
	"fmt"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"konnectsphere_backend/internal/middleware"
	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/database"
	"konnectsphere_backend/pkg/utils/cloudflare"
	"konnectsphere_backend/pkg/utils/image"
	"konnectsphere_backend/pkg/utils/validation"
)

const (
	MaxPitchMedia     = 10
	MaxPitchDocuments = 10
)

func ownerSegment(userID uint) string {
	return fmt.Sprintf("user-%d", userID)
}

// UploadPitchMedia converts the image to WebP and appends it to the draft.
func UploadPitchMedia(c *fiber.Ctx) error {
	pitch := middleware.OwnedPitch(c)
	if err := requireDraft(c, pitch); err != nil {
		return err
	}

	if len(pitch.Media) >= MaxPitchMedia {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Maximum media limit reached (%d)", MaxPitchMedia),
		})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file uploaded",
		})
	}
	if err := validation.ValidateImage(file); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	converted, err := image.ToWebP(src)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not process image",
		})
	}

	key := cloudflare.ObjectKey(ownerSegment(pitch.UserID), pitch.Slug, "media", ".webp")
	url, err := objectStore.Upload(c.UserContext(), key, converted, image.WebPContentType)
	if err != nil {
		return err
	}

	item := model.MediaItem{
		ID:   uuid.NewString(),
		Kind: "image",
		URL:  url,
		Key:  key,
	}
	pitch.Media = append(pitch.Media, item)
	pitch.MarkStepCompleted(model.StepMedia)

	if err := savePitch(database.GetDB(), pitch); err != nil {
		if delErr := objectStore.Delete(c.UserContext(), key); delErr != nil {
			log.Warnf("Could not clean up object %s: %v", key, delErr)
		}
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Media uploaded successfully",
		"media":   item,
	})
}

func DeletePitchMedia(c *fiber.Ctx) error {
	pitch := middleware.OwnedPitch(c)
	if err := requireDraft(c, pitch); err != nil {
		return err
	}

	mediaID := c.Params("media_id")
	var removed *model.MediaItem
	kept := pitch.Media[:0]
	for i := range pitch.Media {
		if pitch.Media[i].ID == mediaID {
			item := pitch.Media[i]
			removed = &item
			continue
		}
		kept = append(kept, pitch.Media[i])
	}
	if removed == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Media not found",
		})
	}
	pitch.Media = kept

	if err := savePitch(database.GetDB(), pitch); err != nil {
		return err
	}
	if err := objectStore.Delete(c.UserContext(), removed.Key); err != nil {
		log.Warnf("Could not delete object %s: %v", removed.Key, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// UploadPitchDocument stores a PDF. The route requires the documents feature.
func UploadPitchDocument(c *fiber.Ctx) error {
	pitch := middleware.OwnedPitch(c)
	if err := requireDraft(c, pitch); err != nil {
		return err
	}

	if len(pitch.Documents) >= MaxPitchDocuments {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Maximum document limit reached (%d)", MaxPitchDocuments),
		})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file uploaded",
		})
	}
	if err := validation.ValidateDocument(file); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	key := cloudflare.ObjectKey(ownerSegment(pitch.UserID), pitch.Slug, "documents", filepath.Ext(file.Filename))
	url, err := objectStore.Upload(c.UserContext(), key, src, "application/pdf")
	if err != nil {
		return err
	}

	doc := model.Document{
		ID:   uuid.NewString(),
		Name: filepath.Base(file.Filename),
		URL:  url,
		Size: file.Size,
		Key:  key,
	}
	pitch.Documents = append(pitch.Documents, doc)
	pitch.MarkStepCompleted(model.StepDocuments)

	if err := savePitch(database.GetDB(), pitch); err != nil {
		if delErr := objectStore.Delete(c.UserContext(), key); delErr != nil {
			log.Warnf("Could not clean up object %s: %v", key, delErr)
		}
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Document uploaded successfully",
		"document": doc,
	})
}

func DeletePitchDocument(c *fiber.Ctx) error {
	pitch := middleware.OwnedPitch(c)
	if err := requireDraft(c, pitch); err != nil {
		return err
	}

	docID := c.Params("document_id")
	var removed *model.Document
	kept := pitch.Documents[:0]
	for i := range pitch.Documents {
		if pitch.Documents[i].ID == docID {
			doc := pitch.Documents[i]
			removed = &doc
			continue
		}
		kept = append(kept, pitch.Documents[i])
	}
	if removed == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}
	pitch.Documents = kept

	if err := savePitch(database.GetDB(), pitch); err != nil {
		return err
	}
	if err := objectStore.Delete(c.UserContext(), removed.Key); err != nil {
		log.Warnf("Could not delete object %s: %v", removed.Key, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
