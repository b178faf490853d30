package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/freezerdb/freezer"
)

func newRouter(store *freezer.Store) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/head", headHandler(store))
		r.Get("/entities/{id}", entityHandler(store))
		r.Get("/keys", keysHandler(store))
		r.Get("/triples", triplesHandler(store))
		r.Get("/transactions/{id}", transactionHandler(store))
	})

	return r
}

func headHandler(store *freezer.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"head_id": store.CurrentDatabase().HeadID()})
	}
}

func entityHandler(store *freezer.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		attrs, err := store.CurrentDatabase().Entity(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		out := map[string]any{}
		for _, name := range attrs.Keys() {
			if v, ok := attrs.Get(name); ok {
				out[name] = renderValue(v)
				continue
			}
			if vs, ok := attrs.Collection(name); ok {
				rendered := make([]any, len(vs))
				for i, v := range vs {
					rendered[i] = renderValue(v)
				}
				out[name] = rendered
			}
		}
		writeJSON(w, out)
	}
}

func keysHandler(store *freezer.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := freezer.NewQueryFactory(store.CurrentDatabase()).Keys()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, keys)
	}
}

func triplesHandler(store *freezer.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		triples, err := freezer.NewQueryFactory(store.CurrentDatabase()).Triples()
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]map[string]any, len(triples))
		for i, t := range triples {
			out[i] = map[string]any{
				"entity_id": t.EntityID,
				"attribute": t.Attribute,
				"value":     renderValue(t.Value),
			}
		}
		writeJSON(w, out)
	}
}

func transactionHandler(store *freezer.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid transaction id", http.StatusBadRequest)
			return
		}
		tuples, err := store.TransactionTuples(r.Context(), txID)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]map[string]any, len(tuples))
		for i, t := range tuples {
			out[i] = map[string]any{
				"row_id":    t.RowID,
				"entity_id": t.EntityID,
				"key":       t.Key,
				"tx_id":     t.TxID,
			}
		}
		writeJSON(w, out)
	}
}

func renderValue(v freezer.Value) any {
	switch v.Type() {
	case freezer.TypeInteger:
		n, _ := v.Int()
		return n
	case freezer.TypeDouble:
		d, _ := v.Double()
		return d
	case freezer.TypeString:
		s, _ := v.String()
		return s
	case freezer.TypeBlob:
		b, _ := v.Blob()
		return b
	case freezer.TypeDate:
		d, _ := v.Date()
		return d
	case freezer.TypeReference:
		ref, _ := v.Reference()
		return ref
	default:
		return nil
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if freezer.IsSchema(err) {
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
