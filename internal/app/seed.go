package app

import (
	"errors"
	"fmt"
	"strings"

	"lendwatch/internal/config"
	"lendwatch/internal/library"
	"lendwatch/internal/users"
)

// seedResources builds catalog items from their config description.
func seedResources(seeds []config.ResourceSeed) ([]library.Resource, error) {
	out := make([]library.Resource, 0, len(seeds))
	var errs []error
	for i, s := range seeds {
		id, title := strings.TrimSpace(s.ID), strings.TrimSpace(s.Title)
		switch strings.ToLower(strings.TrimSpace(s.Kind)) {
		case "book":
			out = append(out, library.NewBook(id, title))
		case "audiobook", "audio":
			out = append(out, library.NewAudiobook(id, title))
		case "magazine":
			out = append(out, library.NewMagazine(id, title))
		case "", "other":
			cat, err := library.ParseCategory(s.Category)
			if err != nil {
				errs = append(errs, fmt.Errorf("catalog.resources[%d]: %w", i, err))
				continue
			}
			var caps library.Capability
			if s.Loanable {
				caps |= library.CapLoanable
			}
			if s.Renewable {
				caps |= library.CapRenewable
			}
			out = append(out, library.New(id, title, cat, caps))
		default:
			errs = append(errs, fmt.Errorf("catalog.resources[%d]: unknown kind %q", i, s.Kind))
		}
	}
	return out, errors.Join(errs...)
}

func seedCatalog(reg *library.Registry, dir *users.Directory, cat config.CatalogConfig) error {
	resources, err := seedResources(cat.Resources)
	if err != nil {
		return err
	}
	for _, r := range resources {
		if err := reg.Add(r); err != nil {
			return fmt.Errorf("seed resource %s: %w", r.ID, err)
		}
	}
	for _, u := range cat.Users {
		err := dir.Add(users.User{
			ID:             strings.TrimSpace(u.ID),
			Name:           u.Name,
			Email:          u.Email,
			Phone:          u.Phone,
			TelegramChatID: u.TelegramChatID,
		})
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	return nil
}
