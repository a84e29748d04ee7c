package scanning

// ticketScanPrompt is the instruction sent with every image, whatever the provider
const ticketScanPrompt = `Analiza esta imagen de un ticket o factura y extrae la información en este formato JSON exacto:

{
  "commerceName": "nombre del comercio o establecimiento",
  "date": "fecha en formato YYYY-MM-DD",
  "totalAmount": numero_total_sin_simbolos,
  "ivaAmount": numero_iva_sin_simbolos,
  "paymentMethod": "cash" | "card" | "transfer",
  "category": "alimentacion" | "transporte" | "salud" | "hogar" | "entretenimiento" | "otros",
  "notes": "observaciones adicionales si las hay",
  "items": [
    {
      "name": "nombre del producto o servicio",
      "quantity": cantidad_numerica,
      "unitPrice": precio_unitario_numerico,
      "subtotal": subtotal_numerico
    }
  ]
}

Instrucciones importantes:
- Si no puedes detectar algún campo, usa valores por defecto razonables
- Los números deben ser solo números, sin símbolos de moneda
- La fecha debe estar en formato YYYY-MM-DD
- Si no hay productos específicos, crea al menos uno con el total
- Responde SOLO con el JSON, sin texto adicional ni bloques de código`

const ollamaSystemPrompt = "Eres experto en leer tickets de compra y facturas. Lee con cuidado todo el texto de la imagen y extrae datos exactos."
