package caps

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"regionsim.ai/internal/inventory"
)

type FetchFolderRequest struct {
	FolderID     uuid.UUID `json:"folder_id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	FetchFolders bool      `json:"fetch_folders"`
	FetchItems   bool      `json:"fetch_items"`
	SortOrder    int       `json:"sort_order"`
}

type FetchRequest struct {
	Folders []FetchFolderRequest `json:"folders"`
}

type FolderDescendents struct {
	FolderID    uuid.UUID          `json:"folder_id"`
	OwnerID     uuid.UUID          `json:"owner_id"`
	AgentID     uuid.UUID          `json:"agent_id"`
	Version     int                `json:"version"`
	Descendents int                `json:"descendents"`
	Categories  []inventory.Folder `json:"categories"`
	Items       []inventory.Item   `json:"items"`
}

type BadFolder struct {
	FolderID uuid.UUID `json:"folder_id"`
	Error    string    `json:"error"`
}

type FetchResponse struct {
	Folders    []FolderDescendents `json:"folders"`
	BadFolders []BadFolder         `json:"bad_folders"`
}

// sortByDate is bit 0 of sort_order; otherwise items are sorted by name.
const sortByDate = 1

func sortItems(items []inventory.Item, order int) {
	if order&sortByDate != 0 {
		sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt > items[j].CreatedAt })
		return
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Name < items[j].Name })
}

// FetchInventoryHandler serves WebFetchInvDesc. It must be wrapped by
// Registry.Protect or routed through the Registry.
func FetchInventoryHandler(inv *inventory.Store, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req FetchRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := FetchResponse{Folders: []FolderDescendents{}, BadFolders: []BadFolder{}}
		for _, f := range req.Folders {
			// Only the token's agent may be read, whatever owner_id says.
			if f.OwnerID != uuid.Nil && f.OwnerID != claims.Agent {
				resp.BadFolders = append(resp.BadFolders, BadFolder{FolderID: f.FolderID, Error: "Not owner"})
				continue
			}
			c, err := inv.GetFolderContent(r.Context(), claims.Agent, f.FolderID)
			if err != nil {
				msg := "Unknown"
				if errors.Is(err, inventory.ErrNotOwner) {
					msg = "Not owner"
				}
				resp.BadFolders = append(resp.BadFolders, BadFolder{FolderID: f.FolderID, Error: msg})
				continue
			}
			d := FolderDescendents{
				FolderID:    c.Folder.ID,
				OwnerID:     c.Folder.OwnerID,
				AgentID:     claims.Agent,
				Version:     c.Folder.Version,
				Descendents: len(c.Folders) + len(c.Items),
				Categories:  []inventory.Folder{},
				Items:       []inventory.Item{},
			}
			if f.FetchFolders {
				d.Categories = append(d.Categories, c.Folders...)
			}
			if f.FetchItems {
				d.Items = append(d.Items, c.Items...)
				sortItems(d.Items, f.SortOrder)
			}
			resp.Folders = append(resp.Folders, d)
		}
		if len(resp.BadFolders) > 0 {
			logger.Printf("agent %s: %d bad folders", claims.Agent, len(resp.BadFolders))
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	})
}
