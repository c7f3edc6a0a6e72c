package authgate

import (
	"embed"
	"io/fs"
)

//go:embed translations/*.json
var translationsFS embed.FS

//go:embed views/*.html
var viewsFS embed.FS

// GetTranslationsFS returns the translation files, one per language tag.
func GetTranslationsFS() fs.FS {
	sub, err := fs.Sub(translationsFS, "translations")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetViewsFS returns the django templates used by the screen controller.
func GetViewsFS() fs.FS {
	sub, err := fs.Sub(viewsFS, "views")
	if err != nil {
		panic(err)
	}
	return sub
}
